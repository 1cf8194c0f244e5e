package models

import "github.com/google/uuid"

// GenerationArtifact is the deterministic build context produced by the
// generation engine for one registration: a file tree (server source,
// manifest, Dockerfile) plus a content digest over all files. Regenerating
// from an unchanged registration yields a byte-identical artifact.
type GenerationArtifact struct {
	RegistrationID uuid.UUID         `json:"registrationId"`
	ServerName     string            `json:"serverName"`
	Version        string            `json:"version"`
	Files          map[string][]byte `json:"-"`
	// Digest is the hex sha256 over the sorted file paths and contents.
	Digest string `json:"digest"`
	// ToolCount is the number of MCP tools the generated server exposes.
	ToolCount int `json:"toolCount"`
}

// ImageRef is an immutable reference to a built MCP server image.
type ImageRef struct {
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Digest string `json:"digest"`
}

// String returns the name:tag form used by the container runtime.
func (r ImageRef) String() string {
	if r.Tag == "" {
		return r.Name
	}
	return r.Name + ":" + r.Tag
}

// Empty reports whether the reference is unset.
func (r ImageRef) Empty() bool {
	return r.Name == ""
}
