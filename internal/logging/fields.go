package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点、worker 版本与响应来源字段，供代理请求日志复用。
func RequestFields(site, domain, workerKey, version, source string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"site":       site,
		"domain":     domain,
		"worker_key": workerKey,
		"version":    version,
		"source":     source,
		"cache_hit":  cacheHit,
	}
}

// WorkerFields 描述一次 worker 生命周期操作。
func WorkerFields(site, workerKey, version, action string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"site":       site,
		"worker_key": workerKey,
		"version":    version,
	}
}
