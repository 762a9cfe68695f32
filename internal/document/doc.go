// Package document parses markdown documents with YAML frontmatter into
// structured values and renders them back to text.
//
// # Text format
//
// A document is UTF-8 text with an optional frontmatter block, a title
// heading, an optional leading paragraph and zero or more sections:
//
//	---
//	status: active
//	tags: [api, backend]
//	---
//
//	# Rewrite the sync engine
//
//	Lead paragraph. Becomes the lead column.
//
//	## Context
//
//	Section content.
//
//	## Plan
//
//	More content.
//
// Only "## " headings start sections. When two sections share a name the
// last one wins: the earlier section is dropped and the name takes the
// position of its last occurrence.
//
// # Identity and fingerprints
//
// A document's ID is a name-based UUID of its slash-separated relative path,
// so a rename is a delete of one ID plus a create of another. The fingerprint
// is a SHA-256 digest of the raw file bytes and is what the sync and dump
// engines compare to decide whether anything changed.
//
// # Round trip
//
// [Render] is the inverse of [Parse] up to whitespace normalization: the
// frontmatter key set and values, the section names and their order, and the
// section content survive a Parse/Render/Parse cycle.
package document
