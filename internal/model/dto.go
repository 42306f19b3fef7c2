package model

// QueryResult 定义了返回给前端的单条检索结果。
type QueryResult struct {
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
	DocumentName string  `json:"documentName"`
	ChunkIndex   int     `json:"chunkIndex"`
}
