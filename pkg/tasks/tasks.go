// Package tasks 定义了投递到 Kafka 的入库任务载荷。
package tasks

// IngestionTask 描述一次文档入库任务。
// Chunks 与 ObjectName 二选一：API 文本入库走内联分块，
// 文件上传走 MinIO 对象引用（消费端下载后抽取并分块）。
type IngestionTask struct {
	TaskID       string   `json:"task_id"`
	DocID        uint     `json:"doc_id"`
	DocumentName string   `json:"document_name"`
	Username     string   `json:"username"`
	Scope        string   `json:"scope"`
	Chunks       []string `json:"chunks,omitempty"`
	ObjectName   string   `json:"object_name,omitempty"`
}
