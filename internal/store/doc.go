// Package store 提供 newsflow 的文档存储层。
//
// 该包封装 MongoDB 访问：类型化的 CRUD、协调器依赖的原子原语
// （claim、mark_finished、幂等 upsert）以及查询辅助函数。
package store
