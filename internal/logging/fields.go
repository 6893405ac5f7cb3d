package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 method/key/命中结果字段，供请求日志复用。
func RequestFields(requestID, method, key, outcome string) logrus.Fields {
	fields := logrus.Fields{
		"method":  method,
		"key":     key,
		"outcome": outcome,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// CacheFields 提供缓存层事件的公共字段。
func CacheFields(action, key string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"key":    key,
	}
}
