// Package diffparse extracts the structural facts the matcher needs from
// unified diff text: touched files, touched functions and the ordered list of
// changed lines.
//
// Complete multi-file diffs are parsed with sourcegraph/go-diff. Fragments
// that begin at a hunk header, mail-formatted patches and anything else the
// structured parser rejects go through a lenient line scanner instead, so
// Parse never fails:
//
//	p := diffparse.Parse(text)
//	p.Files     // ["net/ipv4/tcp.c"]
//	p.Functions // ["tcp_connect"]
//	p.Changes   // changed lines without their +/- marker
//
// Function names come from hunk section headings and from added definition
// lines (C, Go and Python). Headings that do not look like a definition, such
// as "struct sock_common", are kept verbatim.
package diffparse
