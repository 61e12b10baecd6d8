package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// MetricChange is the minimal projection of one recorded ledger event,
// pushed to live-dashboard subscribers. Delivery is best-effort.
type MetricChange struct {
	Name            string `json:"name"`
	Value           string `json:"value"`
	Day             string `json:"day"`
	BranchName      string `json:"branch_name"`
	BranchCode      string `json:"branch_code"`
	LoanOfficerName string `json:"loan_officer_name,omitempty"`
	Currency        string `json:"currency"`
	LoanId          *int   `json:"loan_id,omitempty"`
	GroupId         *int   `json:"group_id,omitempty"`
	ClientId        *int   `json:"client_id,omitempty"`
}

type MetricsChangedMessage struct {
	Changes       []MetricChange `json:"changes"`
	CorrelationId string         `json:"correlation_id,omitempty"`
	PublishedAt   time.Time      `json:"published_at"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Application Default Credentials.
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}

	pubsubClientMu.Lock()
	if pubsubClient == nil {
		pubsubClient = c
	} else {
		// Another goroutine won the race; close ours.
		_ = c.Close()
	}
	c2 := pubsubClient
	pubsubClientMu.Unlock()
	return c2, nil
}

func CreateTopicIfNotExists(c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	ctx := context.Background()
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// PublishMetricsChanged pushes the metrics-changed notification. Callers must
// treat failure as non-fatal: the ledger write has already committed.
func PublishMetricsChanged(msg MetricsChangedMessage) error {
	topicName := os.Getenv("METRICS_TOPIC")
	if topicName == "" {
		topicName = "metrics-changed"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := getPubSubClient(ctx)
	if err != nil {
		return err
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	result := client.Topic(topicName).Publish(ctx, &pubsub.Message{Data: msgJSON})
	if _, err := result.Get(ctx); err != nil {
		log.Printf("metrics-changed publish failed (topic=%s): %v", topicName, err)
		return err
	}
	return nil
}
