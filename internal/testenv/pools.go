package testenv

// ServiceImage is one entry in a service pool.
type ServiceImage struct {
	Image string
	Ports []string
	Name  string
	Lang  string // app servers only
	Kind  string // databases only: relational, document, cache, ...
}

var webServers = []ServiceImage{
	{Image: "nginx:alpine", Ports: []string{"80", "443"}, Name: "nginx"},
	{Image: "httpd:alpine", Ports: []string{"80", "443"}, Name: "apache"},
	{Image: "caddy:alpine", Ports: []string{"80", "443"}, Name: "caddy"},
	{Image: "traefik:v2.10", Ports: []string{"80", "8080"}, Name: "traefik"},
}

var appServers = []ServiceImage{
	{Image: "python:3.11-slim", Ports: []string{"5000"}, Name: "flask", Lang: "python"},
	{Image: "python:3.11-slim", Ports: []string{"8000"}, Name: "django", Lang: "python"},
	{Image: "node:20-slim", Ports: []string{"3000"}, Name: "express", Lang: "node"},
	{Image: "node:20-slim", Ports: []string{"3000"}, Name: "nextjs", Lang: "node"},
	{Image: "eclipse-temurin:17-jdk-alpine", Ports: []string{"8080"}, Name: "springboot", Lang: "java"},
	{Image: "eclipse-temurin:17-jdk-alpine", Ports: []string{"8080"}, Name: "quarkus", Lang: "java"},
	{Image: "mcr.microsoft.com/dotnet/aspnet:8.0", Ports: []string{"5000"}, Name: "dotnet", Lang: "dotnet"},
	{Image: "ruby:3.2-slim", Ports: []string{"3000"}, Name: "rails", Lang: "ruby"},
	{Image: "golang:1.21-alpine", Ports: []string{"8080"}, Name: "goapi", Lang: "go"},
}

var databases = []ServiceImage{
	{Image: "postgres:16", Ports: []string{"5432"}, Name: "postgresql", Kind: "relational"},
	{Image: "postgres:15", Ports: []string{"5432"}, Name: "postgresql15", Kind: "relational"},
	{Image: "mysql:8", Ports: []string{"3306"}, Name: "mysql", Kind: "relational"},
	{Image: "mariadb:11", Ports: []string{"3306"}, Name: "mariadb", Kind: "relational"},
	{Image: "mongo:7", Ports: []string{"27017"}, Name: "mongodb", Kind: "document"},
	{Image: "mongo:6", Ports: []string{"27017"}, Name: "mongodb6", Kind: "document"},
	{Image: "redis:7-alpine", Ports: []string{"6379"}, Name: "redis", Kind: "cache"},
	{Image: "memcached:alpine", Ports: []string{"11211"}, Name: "memcached", Kind: "cache"},
	{Image: "elasticsearch:8.11.0", Ports: []string{"9200", "9300"}, Name: "elasticsearch", Kind: "search"},
	{Image: "cassandra:4", Ports: []string{"9042"}, Name: "cassandra", Kind: "wide-column"},
	{Image: "couchdb:3", Ports: []string{"5984"}, Name: "couchdb", Kind: "document"},
}

var messageQueues = []ServiceImage{
	{Image: "rabbitmq:3-management", Ports: []string{"5672", "15672"}, Name: "rabbitmq"},
	{Image: "apache/kafka:3.6.0", Ports: []string{"9092"}, Name: "kafka"},
	{Image: "nats:alpine", Ports: []string{"4222", "8222"}, Name: "nats"},
	{Image: "eclipse-mosquitto:2", Ports: []string{"1883", "9001"}, Name: "mqtt"},
}

var infrastructure = []ServiceImage{
	{Image: "vault:1.15", Ports: []string{"8200"}, Name: "vault"},
	{Image: "consul:1.17", Ports: []string{"8500", "8600"}, Name: "consul"},
	{Image: "minio/minio:latest", Ports: []string{"9000", "9001"}, Name: "minio"},
	{Image: "registry:2", Ports: []string{"5000"}, Name: "docker-registry"},
	{Image: "grafana/grafana:latest", Ports: []string{"3000"}, Name: "grafana"},
	{Image: "prom/prometheus:latest", Ports: []string{"9090"}, Name: "prometheus"},
}

var departmentNames = []string{
	"erp", "crm", "hrms", "finance", "inventory", "analytics", "billing",
	"logistics", "procurement", "manufacturing", "warehouse", "ecommerce",
	"marketing", "support", "legacy",
}

var companyPrefixes = []string{
	"acme", "globex", "initech", "umbrella", "waynetech",
	"starkindustries", "oscorp", "lexcorp", "cyberdyne", "tyrell",
}
