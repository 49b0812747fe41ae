// Package imaging stores uploaded chat images content-addressed and derives
// a bounded thumbnail per image. Identical bytes are written once: existence
// is checked before every write, backed by an in-process seen cache. The
// thumbnail bound is 240px when the short side is at least 240px, 80px
// otherwise.
package imaging
