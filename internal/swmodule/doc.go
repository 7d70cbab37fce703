// Package swmodule 聚合 cache worker 的 profile，并提供统一的注册入口。
//
// profile 作者需要：
//  1. 在 internal/swmodule/<profile-key>/ 目录下实现 worker.Handler；
//  2. 在 init() 中通过 MustRegister 注册 ModuleMetadata（含默认 manifest 与 Factory）；
//  3. 在 internal/config/profiles.go 中以空导入方式引入该包，使配置校验可识别该 key。
//
// 该包同时负责提供 profile 发现与诊断端需要的元数据。
package swmodule
