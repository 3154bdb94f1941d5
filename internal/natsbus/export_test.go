package natsbus

import (
	"context"

	"github.com/book-expert/logger"
)

// Message mirrors the acknowledgement surface a job uses.
type Message = message

// HandleForTest runs one message through a worker without a consumer.
func HandleForTest(ctx context.Context, msg Message, handler BundleHandler, log *logger.Logger) {
	worker := &Worker{consumer: nil, handler: handler, log: log}
	worker.handle(ctx, msg)
}
