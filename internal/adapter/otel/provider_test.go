package otel_test

import (
	"context"
	"os"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	adapter "github.com/neomorfeo/tenantclock/internal/adapter/otel"
)

func testConfig(exporter string) adapter.Config {
	return adapter.Config{
		ServiceName:    "tenantclock-test",
		ServiceVersion: "0.0.1",
		Environment:    "test",
		Exporter:       exporter,
		SampleRatio:    1,
	}
}

func TestSetup_Exporters(t *testing.T) {
	// The stdout exporters print on shutdown.
	origStdout := os.Stdout
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("opening /dev/null: %v", err)
	}
	os.Stdout = devNull
	t.Cleanup(func() {
		os.Stdout = origStdout
		devNull.Close()
	})

	for _, exporter := range []string{adapter.ExporterStdout, adapter.ExporterNone} {
		t.Run(exporter, func(t *testing.T) {
			providers, err := adapter.Setup(context.Background(), testConfig(exporter))
			if err != nil {
				t.Fatalf("Setup failed: %v", err)
			}

			_, span := otel.Tracer("test").Start(context.Background(), "check")
			span.End()

			if otel.GetTracerProvider() != providers.Tracer {
				t.Error("tracer provider not installed globally")
			}
			if err := providers.Shutdown(context.Background()); err != nil {
				t.Fatalf("Shutdown failed: %v", err)
			}
		})
	}
}

func TestSetup_InvalidExporter(t *testing.T) {
	if _, err := adapter.Setup(context.Background(), testConfig("zipkin")); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"OTEL_SERVICE_NAME", "OTEL_SERVICE_VERSION", "OTEL_ENVIRONMENT",
		"OTEL_EXPORTER", "OTEL_TRACES_SAMPLE_RATIO", "OTEL_METRIC_INTERVAL",
	} {
		t.Setenv(key, "")
	}

	cfg := adapter.ConfigFromEnv()

	if cfg.ServiceName != "tenantclock" || cfg.ServiceVersion != "0.1.0" {
		t.Errorf("service = %s@%s", cfg.ServiceName, cfg.ServiceVersion)
	}
	if cfg.Environment != "development" || !cfg.Insecure {
		t.Errorf("Environment = %q Insecure = %v, want development/true", cfg.Environment, cfg.Insecure)
	}
	if cfg.Exporter != adapter.ExporterStdout {
		t.Errorf("Exporter = %q, want stdout", cfg.Exporter)
	}
	if cfg.SampleRatio != 1 || cfg.MetricInterval != time.Minute {
		t.Errorf("SampleRatio = %v MetricInterval = %s", cfg.SampleRatio, cfg.MetricInterval)
	}
}

func TestConfigFromEnv_CustomValues(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "clock-eu")
	t.Setenv("OTEL_ENVIRONMENT", "production")
	t.Setenv("OTEL_EXPORTER", "otlp")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.25")
	t.Setenv("OTEL_METRIC_INTERVAL", "15s")

	cfg := adapter.ConfigFromEnv()

	if cfg.ServiceName != "clock-eu" || cfg.Exporter != adapter.ExporterOTLP {
		t.Errorf("got %+v", cfg)
	}
	if cfg.Insecure {
		t.Error("production must not use insecure OTLP")
	}
	if cfg.SampleRatio != 0.25 || cfg.MetricInterval != 15*time.Second {
		t.Errorf("SampleRatio = %v MetricInterval = %s", cfg.SampleRatio, cfg.MetricInterval)
	}
}

func TestConfigFromEnv_IgnoresOutOfRangeRatio(t *testing.T) {
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "4")

	if cfg := adapter.ConfigFromEnv(); cfg.SampleRatio != 1 {
		t.Errorf("SampleRatio = %v, want fallback 1", cfg.SampleRatio)
	}
}
