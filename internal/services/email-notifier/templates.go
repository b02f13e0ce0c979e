package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/NordCoder/Questline/internal/domain/notification"
)

const layoutTmpl = `{{define "layout"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: Arial, sans-serif; color: #1f2933; background: #f5f7fa; padding: 24px;">
<div style="max-width: 560px; margin: 0 auto; background: #ffffff; border-radius: 8px; padding: 24px;">
<p>Hi {{.Name}},</p>
{{template "content" .}}
<hr style="border: none; border-top: 1px solid #e4e7eb; margin: 24px 0;">
<p style="font-size: 12px; color: #7b8794;">You are receiving this because email is enabled for {{.TypeLabel}} notifications. You can change this in your notification settings.</p>
</div>
</body>
</html>{{end}}`

// One content block per notification type; "default" covers anything else.
var contentTmpls = map[string]string{
	string(notification.TypeMention): `<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{with .Meta "location"}}<p style="color: #52606d;">Where: {{.}}</p>{{end}}`,

	string(notification.TypeQuestAvailable): `<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
{{with .Meta "quest_title"}}<p><strong>{{.}}</strong> is ready to start.</p>{{end}}`,

	string(notification.TypeEventReminder): `<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
<p style="color: #52606d;">See you there!</p>`,

	string(notification.TypeAchievement): `<h2 style="color: #c99a2e;">{{.Title}}</h2>
<p>{{.Message}}</p>
{{with .Meta "points"}}<p>Points earned: <strong>{{.}}</strong></p>{{end}}
<p>Keep up the great work!</p>`,

	string(notification.TypeSystem): `<h2>{{.Title}}</h2>
<p>{{.Message}}</p>`,

	"default": `<h2>{{.Title}}</h2>
<p>{{.Message}}</p>`,
}

type emailData struct {
	Name      string
	Title     string
	Message   string
	TypeLabel string
	SentAt    time.Time
	metadata  map[string]any
}

// Meta returns a metadata value, or nil so {{with}} skips the block.
func (d emailData) Meta(key string) any {
	if d.metadata == nil {
		return nil
	}
	return d.metadata[key]
}

// Templates renders notification emails keyed by notification type.
type Templates struct {
	sets map[string]*template.Template
}

func NewTemplates() (*Templates, error) {
	base, err := template.New("layout").Parse(layoutTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	sets := make(map[string]*template.Template, len(contentTmpls))
	for name, body := range contentTmpls {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.New("content").Parse(body); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		sets[name] = t
	}
	return &Templates{sets: sets}, nil
}

func MustTemplates() *Templates {
	t, err := NewTemplates()
	if err != nil {
		panic(err)
	}
	return t
}

// Render returns the subject and HTML body for n addressed to name.
func (t *Templates) Render(n notification.Notification, name string) (subject, body string, err error) {
	set, ok := t.sets[string(n.Type)]
	if !ok {
		set = t.sets["default"]
	}
	if name == "" {
		name = "there"
	}
	var buf bytes.Buffer
	err = set.ExecuteTemplate(&buf, "layout", emailData{
		Name:      name,
		Title:     n.Title,
		Message:   n.Message,
		TypeLabel: typeLabel(n.Type),
		SentAt:    n.CreatedAt,
		metadata:  n.Metadata,
	})
	if err != nil {
		return "", "", fmt.Errorf("render %s email: %w", n.Type, err)
	}
	return n.Title, buf.String(), nil
}

func typeLabel(t notification.Type) string {
	switch t {
	case notification.TypeMention:
		return "mention"
	case notification.TypeQuestAvailable:
		return "new quest"
	case notification.TypeEventReminder:
		return "event reminder"
	case notification.TypeAchievement:
		return "achievement"
	case notification.TypeSystem:
		return "system"
	}
	return string(t)
}
