package approval

import (
	"context"
	"log"
	"os"

	"github.com/mohammad-safakhou/growloop/models"
)

// LogChannel writes approval batches to the process log. Decisions then
// arrive through the HTTP API instead of a chat.
type LogChannel struct {
	logger *log.Logger
}

func NewLogChannel() *LogChannel {
	return &LogChannel{logger: log.New(os.Stdout, "[APPROVAL] ", log.LstdFlags)}
}

func (l *LogChannel) Present(ctx context.Context, cycleID string, candidates []models.RankedPost) error {
	l.logger.Print(FormatCandidates(cycleID, candidates))
	return nil
}
