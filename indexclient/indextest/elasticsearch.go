package indextest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const elasticsearchImage = "docker.elastic.co/elasticsearch/elasticsearch:7.17.28"

// NewTestElasticsearch starts a single node Elasticsearch in a container,
// and returns its URL.
func NewTestElasticsearch(t testing.TB) (url string, done func()) {
	start := time.Now()

	// the first start pulls the image
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        elasticsearchImage,
			ExposedPorts: []string{"9200/tcp"},
			Env: map[string]string{
				"discovery.type":         "single-node",
				"xpack.security.enabled": "false",
				"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
			},
			WaitingFor: wait.ForHTTP("/_cluster/health").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start elasticsearch: %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url, err = container.Endpoint(ctx, "http")
	if err != nil {
		t.Fatalf("Failed to get elasticsearch address: %v", err)
	}

	t.Logf("Started elasticsearch at %s in %v", url, time.Since(start))

	if err := ping(ctx, url); err != nil {
		t.Fatalf("Failed to ping elasticsearch: %v", err)
	}

	done = func() {
		t.Logf("Stopping elasticsearch at %s", url)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("Failed to stop elasticsearch: %v", err)
		}
	}
	return
}

func ping(ctx context.Context, url string) error {
	for ctx.Err() == nil {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return err
		}

		if rsp, err := http.DefaultClient.Do(req); err == nil {
			rsp.Body.Close()
			if rsp.StatusCode == http.StatusOK {
				return nil
			}
		}

		time.Sleep(100 * time.Millisecond)
	}

	return ctx.Err()
}
