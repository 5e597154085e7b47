package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StoreFields 提供 blob store 级别的字段，供路由构建、销毁与分发日志复用。
func StoreFields(action, storeID string) logrus.Fields {
	return logrus.Fields{
		"action":   action,
		"store_id": storeID,
	}
}

// LayerFields 在 StoreFields 基础上附加图层名与操作名。
func LayerFields(action, storeID, layer, operation string) logrus.Fields {
	fields := StoreFields(action, storeID)
	fields["layer"] = layer
	fields["operation"] = operation
	return fields
}
