// Package validate classifies raw SQL text as a single read-only query.
//
// The check is lexical, not a parser. Text inside single-quoted string
// literals, quoted identifiers ("x", `x`, [x]) and comments is skipped; every
// other word is a top-level token. Rules, in order:
//
//  1. Outer whitespace and exactly one trailing ';' are stripped. Any other
//     top-level ';' is a multi-statement rejection.
//  2. The first top-level token must be SELECT (case-insensitive).
//  3. No top-level token may be a forbidden keyword (see Forbidden).
//  4. Accepted text is passed on unmodified.
//
// False rejections are preferred over false acceptances: a column that
// happens to be named "replace" is rejected unless it is quoted.
package validate
