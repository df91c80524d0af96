package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// EventFields 提供事件类型/代际/URL 字段，供 worker 与 host 的日志复用。
func EventFields(event, generation, url string) logrus.Fields {
	fields := logrus.Fields{
		"event":      event,
		"generation": generation,
	}
	if url != "" {
		fields["url"] = url
	}
	return fields
}

// RequestFields 在 EventFields 基础上追加请求 ID 与拦截结果。
func RequestFields(generation, url, requestID, outcome string) logrus.Fields {
	fields := EventFields("fetch", generation, url)
	fields["outcome"] = outcome
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
