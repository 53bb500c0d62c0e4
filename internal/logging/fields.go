package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 package/version/filename 字段，供包文件请求日志复用。
func RequestFields(pkg, version, filename string) logrus.Fields {
	return logrus.Fields{
		"package":  pkg,
		"version":  version,
		"filename": filename,
	}
}

// OrDiscard 在调用方未注入 logger 时返回一个丢弃输出的实例，
// 保证日志是否存在不会影响解析结果。
func OrDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}
