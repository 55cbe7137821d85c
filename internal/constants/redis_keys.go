// Package constants 存放跨包共享的 Redis Key 格式。
package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// EmbeddingModulePrefix 向量化模块
	EmbeddingModulePrefix = "embedding"

	// EntityQueryVector 职位描述查询向量实体
	EntityQueryVector = "query_vector"

	// KeyQueryVector 查询向量缓存 (HASH: vector, model_version)
	// 格式: app:embedding:query_vector:{sha256(model, text)}
	KeyQueryVector = AppPrefix + ":" + EmbeddingModulePrefix + ":" + EntityQueryVector + ":%s"
)
