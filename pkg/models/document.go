// Package models defines the core data types shared across chatcore.
package models

// Knowledge sources the search tools draw from.
const (
	SourceJenkinsDocs   = "docs"
	SourcePluginDocs    = "plugins"
	SourceDiscourse     = "discourse"
	SourceStackOverflow = "stackoverflow"
)

// Chunk is a retrievable piece of a crawled document.
//
// Code blocks are stored separately from the text; the text references them
// with [[CODE_BLOCK_n]] or [[CODE_SNIPPET_n]] placeholders so that keyword
// ranking is not dominated by code tokens.
type Chunk struct {
	// ID is the unique identifier for this chunk.
	ID string `json:"id"`

	// Source is the knowledge source (docs, plugins, discourse, stackoverflow).
	Source string `json:"source"`

	// Text is the chunk content with code placeholders.
	Text string `json:"chunk_text"`

	// CodeBlocks holds the code referenced by placeholders, in order.
	CodeBlocks []string `json:"code_blocks,omitempty"`

	// Metadata contains page level information (title, url, plugin name).
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata carries the provenance of a chunk.
type ChunkMetadata struct {
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	PluginName string `json:"plugin_name,omitempty"`
	DataSource string `json:"data_source,omitempty"`
}

// SearchResult is a ranked chunk returned by an index.
type SearchResult struct {
	Chunk *Chunk  `json:"chunk"`
	Score float32 `json:"score"`
}
