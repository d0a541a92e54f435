package services

import (
	"go.uber.org/zap"

	"anon-chat/internal/apperr"
)

// storeErr 记录并归类存储层错误。
func storeErr(logger *zap.Logger, op string, err error) error {
	wrapped := apperr.Store(op, err)
	logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
	return wrapped
}
