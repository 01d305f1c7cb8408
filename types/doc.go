// Package types provides core types shared across the acton-ai runtime:
// identifiers, conversation messages, broker message kinds, and the unified
// error taxonomy.
//
// This package has ZERO dependencies on other acton-ai packages to avoid
// circular imports. All other packages import types from here.
package types
