package models

// MetadataRecord is the text and provenance stored for one vector ID.
type MetadataRecord struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	Source     string `json:"source,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
}

// RecordFromChunk builds the metadata record for a chunk stored under id.
func RecordFromChunk(id int64, c *Chunk) *MetadataRecord {
	if c == nil {
		return &MetadataRecord{ID: id}
	}
	return &MetadataRecord{
		ID:         id,
		Text:       c.Text,
		Source:     c.Source,
		DocumentID: c.DocumentID,
		ChunkIndex: c.Index,
	}
}
