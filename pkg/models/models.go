package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// NodeKind represents the kind of code entity. The set is open: scanners
// may emit kinds beyond the constants below and the store keeps them as-is.
type NodeKind string

// Node kind constants for the entities every scanner emits.
const (
	KindModule   NodeKind = "module"
	KindFunction NodeKind = "function"
	KindClass    NodeKind = "class"
	KindOther    NodeKind = "other"
)

// EdgeType represents the kind of relationship between code entities.
type EdgeType string

// Edge type constants for relationships between entities.
const (
	EdgeCalls   EdgeType = "CALLS"
	EdgeImports EdgeType = "IMPORTS"
	EdgeExtends EdgeType = "EXTENDS"
)

// Node represents one code entity in the graph.
type Node struct {
	ID            string   `json:"id" yaml:"id"`
	Kind          NodeKind `json:"kind" yaml:"kind"`
	Name          string   `json:"name" yaml:"name"`
	QualifiedName string   `json:"qualified_name,omitempty" yaml:"qualified_name,omitempty"`
	FilePath      string   `json:"file_path" yaml:"file_path"`
	StartLine     int      `json:"start_line" yaml:"start_line"`
	EndLine       int      `json:"end_line" yaml:"end_line"`
	Language      string   `json:"language" yaml:"language"`
	Complexity    int      `json:"complexity" yaml:"complexity"`
	Lines         int      `json:"lines" yaml:"lines"`
}

// Edge represents a directed, typed relationship between two nodes.
type Edge struct {
	SourceID string   `json:"source_id" yaml:"source_id"`
	TargetID string   `json:"target_id" yaml:"target_id"`
	Type     EdgeType `json:"type" yaml:"type"`
}

// Reference is an unresolved symbolic reference emitted by a scanner:
// the source node mentions Symbol as written in source (bare name, dotted
// qualified name, or full canonical id). Type selects the edge produced
// when the symbol resolves.
type Reference struct {
	SourceID string   `json:"source_id" yaml:"source_id"`
	Symbol   string   `json:"symbol" yaml:"symbol"`
	Type     EdgeType `json:"type" yaml:"type"`
}

// FileScan is the per-file record a scanner emits: the file's entities,
// its unresolved references, and the content hash computed by the caller.
type FileScan struct {
	Path       string      `json:"path" yaml:"path"`
	Hash       string      `json:"hash" yaml:"hash"`
	Nodes      []Node      `json:"nodes" yaml:"nodes"`
	References []Reference `json:"references" yaml:"references"`
}

// ScanBatch is an ordered set of file scans handed to the resolution
// pipeline in one ingest run.
type ScanBatch struct {
	Language string     `json:"language,omitempty" yaml:"language,omitempty"`
	Files    []FileScan `json:"files" yaml:"files"`
}

// FileHash records the stored content hash for a scanned file.
type FileHash struct {
	Path        string    `json:"path"`
	Hash        string    `json:"hash"`
	ProcessedAt time.Time `json:"processed_at"`
}

// NodeID derives the canonical id for a node from its kind, file path,
// and qualified name (falling back to the bare name). The derivation is
// pure, so re-scanning unchanged source regenerates the identical id.
func NodeID(kind NodeKind, filePath, qualifiedName, name string) string {
	ident := qualifiedName
	if ident == "" {
		ident = name
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{string(kind), filePath, ident}, "\x00")))
	return string(kind) + ":" + hex.EncodeToString(sum[:12])
}

// Identify fills in n.ID from the node's identity fields if it is empty.
func (n *Node) Identify() {
	if n.ID == "" {
		n.ID = NodeID(n.Kind, n.FilePath, n.QualifiedName, n.Name)
	}
}
