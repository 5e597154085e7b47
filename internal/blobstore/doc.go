// Package blobstore 聚合所有 blob store 后端类型，并提供统一的注册入口。
//
// 后端作者需要：
//  1. 在 internal/blobstore/<type>/ 目录下实现 storage.BlobStore；
//  2. 在 init() 中调用 MustRegister 注册类型元数据与 Factory；
//  3. 通过 DecodeParams 解析 [[BlobStore]] 中的类型专属字段。
//
// 配置层只依赖本包完成类型校验，并通过 NewConfig 生成 storage.BlobStoreConfig，
// 交给 composite 路由在启动时实例化。
package blobstore
