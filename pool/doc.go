// File: pool/doc.go
// Package pool
// Author: momentics <momentics@gmail.com>
//
// Generic object pooling, used by core/fence as the retired-fence free
// list.
package pool
