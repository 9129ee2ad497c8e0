package model

import (
	"fmt"
	"strings"
)

// MaxContentBytes bounds memory content before it touches any store.
const MaxContentBytes = 64 * 1024

// ValidateMemoryInput checks a candidate memory write. It rejects before any
// store is touched; a failure here means no partial mutation happened.
func ValidateMemoryInput(content string, typ MemoryType, namespace string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content must not be empty")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("content exceeds %d bytes (got %d)", MaxContentBytes, len(content))
	}
	if !ValidMemoryTypes[typ] {
		return fmt.Errorf("unknown memory type %q", typ)
	}
	if namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	return nil
}
