package filestore

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	domain "github.com/Zhima-Mochi/otpbroker/internal/domain/order"
)

var auditHeader = []string{"timestamp", "user_id", "order_id", "service_id", "service_name", "phone_number", "price", "status", "sms_content"}

// AuditLog is the append-only order log. The ORDERED status is recorded at creation.
type AuditLog struct {
	path string
	csv  csvAppender
	now  func() time.Time
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path, csv: csvAppender{header: auditHeader}, now: time.Now}
}

// Append records one line for o. status overrides o.Status when set.
func (l *AuditLog) Append(ctx context.Context, o *domain.Order, status string, sms []string) error {
	_ = ctx
	if status == "" {
		status = string(o.Status)
	}
	return l.csv.append(l.path, []string{
		l.now().Format(OrderTimeLayout),
		o.RequesterID,
		o.ID,
		o.ServiceID,
		o.ServiceName,
		o.PhoneNumber,
		o.Price.String(),
		status,
		strings.Join(sms, " | "),
	})
}

var completionHeader = []string{"timestamp", "user_id", "order_id", "service_name", "phone_number", "price", "completion_type"}

const completionManualFinish = "manual_finish"

// CompletionLog writes one CSV per service, named "<service>selesai.txt", for finished orders.
type CompletionLog struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	files map[string]*csvAppender
}

func NewCompletionLog(dir string) *CompletionLog {
	return &CompletionLog{dir: dir, now: time.Now, files: make(map[string]*csvAppender)}
}

func (l *CompletionLog) Append(ctx context.Context, o *domain.Order) error {
	_ = ctx
	name := CompletionFileName(o.ServiceName)

	l.mu.Lock()
	app, ok := l.files[name]
	if !ok {
		app = &csvAppender{header: completionHeader}
		l.files[name] = app
	}
	l.mu.Unlock()

	return app.append(l.pathOf(name), []string{
		l.now().Format(OrderTimeLayout),
		o.RequesterID,
		o.ID,
		o.ServiceName,
		o.PhoneNumber,
		o.Price.String(),
		completionManualFinish,
	})
}

func (l *CompletionLog) pathOf(name string) string {
	return filepath.Join(l.dir, name)
}

// CompletionFileName keeps letters, digits, spaces, '-' and '_' of the service
// name, trims trailing spaces and turns the remaining spaces into '_'.
func CompletionFileName(serviceName string) string {
	var b strings.Builder
	for _, r := range serviceName {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	clean := strings.TrimRight(b.String(), " ")
	return strings.ReplaceAll(clean, " ", "_") + "selesai.txt"
}
