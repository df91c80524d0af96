// Package worker 实现离线缓存代理的核心事件处理：
//
//   - install：按版本名创建缓存代际并整体预缓存应用外壳；
//   - activate：删除其它代际并接管已打开的窗口；
//   - fetch：同源请求缓存优先，未命中走网络并择机回填，网络失败时返回离线页；
//   - sync / push / notificationclick：后台同步与推送通知的转发。
//
// 所有事件经由按 EventKind 注册的分发表处理，Dispatch 返回响应、fetch 终态
// 与有序的副作用列表，宿主（internal/host）据此驱动生命周期。
package worker
