package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SlackNotifier posts run outcomes to a team channel webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// buildSlackMessage lays the notification out as one attachment: the
// failure or summary text up top, the structured facts as short fields.
func buildSlackMessage(n Notification) slackMessage {
	att := slackAttachment{
		Color:  slackColor(n.Type),
		Text:   n.Detail,
		Footer: "segrunner",
	}
	if n.RunID != "" {
		att.Title = "run " + n.RunID
	}

	if n.Task != "" {
		att.Fields = append(att.Fields, slackField{Title: "Task", Value: n.Task, Short: true})
	}
	if n.Stage != "" {
		att.Fields = append(att.Fields, slackField{Title: "Failed while", Value: n.Stage, Short: true})
	}
	if len(n.Series) > 0 {
		lines := make([]string, len(n.Series))
		for i, s := range n.Series {
			lines[i] = s.String()
		}
		att.Fields = append(att.Fields, slackField{Title: "Series", Value: strings.Join(lines, "\n")})
	}
	if n.Imported > 0 || n.RTStructs > 0 {
		att.Fields = append(att.Fields,
			slackField{Title: "Imported", Value: strconv.Itoa(n.Imported), Short: true},
			slackField{Title: "Structure sets", Value: strconv.Itoa(n.RTStructs), Short: true})
	}
	if n.Elapsed > 0 {
		att.Fields = append(att.Fields, slackField{Title: "Runtime", Value: n.Elapsed.Round(time.Second).String(), Short: true})
	}

	return slackMessage{Text: n.Headline, Attachments: []slackAttachment{att}}
}

func slackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil // disabled
	}

	payload, err := json.Marshal(buildSlackMessage(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
