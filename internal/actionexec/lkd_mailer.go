package actionexec

import (
	"context"
	"strings"

	"github.com/2franix/hwsupervisor/internal/lkdbus"
)

// LKDMailer delegates the send to LKD as a send-email action document,
// for installations where LKD itself owns outgoing mail credentials
// rather than this process.
type LKDMailer struct {
	bus lkdbus.Client
}

// NewLKDMailer builds a Mailer that forwards through bus.
func NewLKDMailer(bus lkdbus.Client) *LKDMailer {
	return &LKDMailer{bus: bus}
}

// SendMail implements Mailer.
func (m *LKDMailer) SendMail(ctx context.Context, to []string, subject, body string) error {
	doc := lkdbus.ActionDocument{
		Type: string(KindSendEmail),
		Fields: map[string]string{
			"to":      strings.Join(to, ","),
			"subject": subject,
			"body":    body,
		},
	}
	return m.bus.ExecuteAction(ctx, doc)
}
