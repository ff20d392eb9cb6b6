package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadParsesKafkaBrokerList(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9092 ,")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected 2 brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.KafkaBrokers[0] != "broker-a:9092" || cfg.KafkaBrokers[1] != "broker-b:9092" {
		t.Fatalf("unexpected broker list: %v", cfg.KafkaBrokers)
	}
}

func TestLoadDefaultsSalesTopic(t *testing.T) {
	t.Setenv("KAFKA_SALES_TOPIC", "")

	cfg := Load()
	if cfg.KafkaSalesTopic != "pos.sales" {
		t.Fatalf("expected default sales topic, got %q", cfg.KafkaSalesTopic)
	}
}
