// Package testenv generates a randomized target environment for
// discovery testing: a docker-compose document plus a JSON manifest.
// Generation is seeded so an environment can be recreated exactly.
package testenv

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// Subnet layout of the generated target network.
const (
	SubnetCIDR   = "172.28.0.0/24"
	subnetPrefix = "172.28.0"
	Gateway      = "172.28.0.1"
	NetworkName  = "target-network"
)

// Size selects how many services each pool contributes.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

type countRange struct{ min, max int }

type sizeProfile struct {
	web, app, db, mq, infra countRange
}

var sizeProfiles = map[Size]sizeProfile{
	SizeSmall: {
		web: countRange{1, 2}, app: countRange{1, 2}, db: countRange{1, 2},
		mq: countRange{0, 1}, infra: countRange{0, 1},
	},
	SizeMedium: {
		web: countRange{2, 3}, app: countRange{2, 4}, db: countRange{2, 3},
		mq: countRange{1, 2}, infra: countRange{1, 2},
	},
	SizeLarge: {
		web: countRange{3, 4}, app: countRange{4, 6}, db: countRange{3, 5},
		mq: countRange{2, 3}, infra: countRange{2, 4},
	},
}

// ValidSize reports whether s names a known profile.
func ValidSize(s Size) bool {
	_, ok := sizeProfiles[s]
	return ok
}

// ServiceConfig is one docker-compose service entry. Field order is the
// emitted YAML order.
type ServiceConfig struct {
	Image         string                       `yaml:"image"`
	ContainerName string                       `yaml:"container_name"`
	Networks      map[string]NetworkAttachment `yaml:"networks"`
	Ports         []string                     `yaml:"ports"`
	Labels        map[string]string            `yaml:"labels"`
	Command       string                       `yaml:"command,omitempty"`
	Environment   map[string]string            `yaml:"environment,omitempty"`
}

// NetworkAttachment pins a service to a static address.
type NetworkAttachment struct {
	IPv4Address string `yaml:"ipv4_address"`
}

// ComposeFile is the emitted docker-compose document.
type ComposeFile struct {
	Version  string                    `yaml:"version"`
	Services map[string]ServiceConfig  `yaml:"services"`
	Networks map[string]ComposeNetwork `yaml:"networks"`
}

type ComposeNetwork struct {
	Driver string     `yaml:"driver"`
	IPAM   ComposeIPAM `yaml:"ipam"`
}

type ComposeIPAM struct {
	Config []IPAMConfig `yaml:"config"`
}

type IPAMConfig struct {
	Subnet  string `yaml:"subnet"`
	Gateway string `yaml:"gateway"`
}

// Environment is one generated target environment.
type Environment struct {
	Seed    int64
	Compose ComposeFile
}

// Generator produces environments from a seeded source.
type Generator struct {
	rng  *rand.Rand
	seed int64
	prof sizeProfile

	usedIPs    map[string]bool
	usedPorts  map[int]bool
	portOffset int
}

// NewGenerator seeds a generator. Unknown sizes fall back to small.
func NewGenerator(seed int64, size Size) *Generator {
	prof, ok := sizeProfiles[size]
	if !ok {
		prof = sizeProfiles[SizeSmall]
	}
	return &Generator{
		rng:       rand.New(rand.NewSource(seed)),
		seed:      seed,
		prof:      prof,
		usedIPs:   map[string]bool{Gateway: true},
		usedPorts: map[int]bool{},
	}
}

// Generate builds the full environment. Calling twice on generators with
// the same seed and size yields identical output.
func (g *Generator) Generate() Environment {
	services := map[string]ServiceConfig{}

	numWeb := g.intn(g.prof.web)
	numApp := g.intn(g.prof.app)
	numDB := g.intn(g.prof.db)
	numMQ := g.intn(g.prof.mq)
	numInfra := g.intn(g.prof.infra)

	for i, server := range g.sample(webServers, numWeb) {
		name := g.serviceName(server.Name, i+1)
		services[name] = ServiceConfig{
			Image:         server.Image,
			ContainerName: name,
			Networks:      g.attach(),
			Ports:         g.portMappings(server.Ports),
			Labels: map[string]string{
				"discovery.type":       "web-server",
				"discovery.technology": server.Name,
			},
		}
	}

	for i, server := range g.sample(appServers, numApp) {
		name := g.serviceName(server.Name, i+1)
		services[name] = ServiceConfig{
			Image:         server.Image,
			ContainerName: name,
			Networks:      g.attach(),
			Ports:         g.portMappings(server.Ports),
			Labels: map[string]string{
				"discovery.type":       "app-server",
				"discovery.technology": server.Name,
				"discovery.language":   server.Lang,
			},
			Command: "tail -f /dev/null",
		}
	}

	for i, db := range g.sample(databases, numDB) {
		dept := g.pick(departmentNames)
		name := fmt.Sprintf("target-%s-%s-%02d", dept, db.Name, i+1)
		cfg := ServiceConfig{
			Image:         db.Image,
			ContainerName: name,
			Networks:      g.attach(),
			Ports:         g.portMappings(db.Ports),
			Labels: map[string]string{
				"discovery.type":       "database",
				"discovery.technology": db.Name,
				"discovery.db-type":    db.Kind,
			},
			Environment: g.databaseEnv(db.Name, dept),
		}
		services[name] = cfg
	}

	for i, queue := range g.sample(messageQueues, numMQ) {
		name := g.serviceName(queue.Name, i+1)
		services[name] = ServiceConfig{
			Image:         queue.Image,
			ContainerName: name,
			Networks:      g.attach(),
			Ports:         g.portMappings(queue.Ports),
			Labels: map[string]string{
				"discovery.type":       "message-queue",
				"discovery.technology": queue.Name,
			},
		}
	}

	for i, infra := range g.sample(infrastructure, numInfra) {
		name := g.serviceName(infra.Name, i+1)
		cfg := ServiceConfig{
			Image:         infra.Image,
			ContainerName: name,
			Networks:      g.attach(),
			Ports:         g.portMappings(infra.Ports),
			Labels: map[string]string{
				"discovery.type":       "infrastructure",
				"discovery.technology": infra.Name,
			},
		}
		if infra.Name == "minio" {
			cfg.Command = "server /data --console-address ':9001'"
			cfg.Environment = map[string]string{
				"MINIO_ROOT_USER":     g.pick(companyPrefixes) + "_admin",
				"MINIO_ROOT_PASSWORD": g.password(),
			}
		}
		services[name] = cfg
	}

	return Environment{
		Seed: g.seed,
		Compose: ComposeFile{
			Version:  "3.8",
			Services: services,
			Networks: map[string]ComposeNetwork{
				NetworkName: {
					Driver: "bridge",
					IPAM: ComposeIPAM{
						Config: []IPAMConfig{{Subnet: SubnetCIDR, Gateway: Gateway}},
					},
				},
			},
		},
	}
}

func (g *Generator) intn(r countRange) int {
	if r.max <= r.min {
		return r.min
	}
	return r.min + g.rng.Intn(r.max-r.min+1)
}

// sample draws up to n distinct pool entries in shuffled order.
func (g *Generator) sample(pool []ServiceImage, n int) []ServiceImage {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 {
		return nil
	}
	perm := g.rng.Perm(len(pool))
	out := make([]ServiceImage, n)
	for i := 0; i < n; i++ {
		out[i] = pool[perm[i]]
	}
	return out
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *Generator) serviceName(tech string, index int) string {
	return fmt.Sprintf("target-%s-%s-%02d", g.pick(departmentNames), tech, index)
}

// attach allocates an unused address with last octet in [10, 250].
func (g *Generator) attach() map[string]NetworkAttachment {
	for {
		ip := fmt.Sprintf("%s.%d", subnetPrefix, 10+g.rng.Intn(241))
		if !g.usedIPs[ip] {
			g.usedIPs[ip] = true
			return map[string]NetworkAttachment{
				NetworkName: {IPv4Address: ip},
			}
		}
	}
}

// portMappings maps each container port to a free host port, offsetting
// from the container port until unused.
func (g *Generator) portMappings(containerPorts []string) []string {
	out := make([]string, 0, len(containerPorts))
	for _, p := range containerPorts {
		base, _ := strconv.Atoi(p)
		for {
			hostPort := base + g.portOffset
			if !g.usedPorts[hostPort] {
				g.usedPorts[hostPort] = true
				g.portOffset++
				out = append(out, fmt.Sprintf("%d:%s", hostPort, p))
				break
			}
			g.portOffset++
		}
	}
	return out
}

const passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (g *Generator) password() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = passwordChars[g.rng.Intn(len(passwordChars))]
	}
	return string(b)
}

func (g *Generator) databaseEnv(dbName, dept string) map[string]string {
	user := g.pick(departmentNames) + "_user"
	switch {
	case strings.Contains(dbName, "postgres"):
		return map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": g.password(),
			"POSTGRES_DB":       dept + "_db",
		}
	case strings.Contains(dbName, "mysql"), strings.Contains(dbName, "mariadb"):
		return map[string]string{
			"MYSQL_ROOT_PASSWORD": g.password(),
			"MYSQL_DATABASE":      dept + "_db",
			"MYSQL_USER":          user,
			"MYSQL_PASSWORD":      g.password(),
		}
	case strings.Contains(dbName, "mongo"):
		return map[string]string{
			"MONGO_INITDB_ROOT_USERNAME": user,
			"MONGO_INITDB_ROOT_PASSWORD": g.password(),
		}
	case strings.Contains(dbName, "elasticsearch"):
		return map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms256m -Xmx256m",
		}
	case strings.Contains(dbName, "couchdb"):
		return map[string]string{
			"COUCHDB_USER":     user,
			"COUCHDB_PASSWORD": g.password(),
		}
	default:
		return nil
	}
}

