package docker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/mikeydub/go-activity/util"
)

const composeFile = "docker-compose.yml"

// N.B. This isn't the entire Docker Compose spec...
type ComposeFile struct {
	Version  string             `yaml:"version"`
	Services map[string]Service `yaml:"services"`
}

type Service struct {
	Image       string   `yaml:"image"`
	Ports       []string `yaml:"ports"`
	Environment []string `yaml:"environment"`
	Command     string   `yaml:"command"`
}

func configureContainerCleanup(config *docker.HostConfig) {
	config.AutoRemove = true
	config.RestartPolicy = docker.RestartPolicy{Name: "no"}
}

func waitOnDB() error {
	db, err := sql.Open(
		"pgx",
		fmt.Sprintf("host=%s port=%d user=%s dbname=%s",
			viper.GetString("POSTGRES_HOST"),
			viper.GetInt("POSTGRES_PORT"),
			viper.GetString("POSTGRES_USER"),
			viper.GetString("POSTGRES_DB"),
		),
	)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ping()
}

func waitOnCache() error {
	client := redis.NewClient(&redis.Options{Addr: viper.GetString("REDIS_URL")})
	defer client.Close()
	return client.Ping(context.Background()).Err()
}

func loadComposeFile() (ComposeFile, error) {
	path, err := util.FindFile(composeFile, 5)
	if err != nil {
		return ComposeFile{}, err
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return ComposeFile{}, err
	}

	var f ComposeFile
	err = yaml.Unmarshal(data, &f)
	return f, err
}

func getImageAndVersion(s string) ([]string, error) {
	imgAndVer := strings.Split(s, ":")
	if len(imgAndVer) != 2 {
		return nil, errors.New("no version specified for image")
	}
	return imgAndVer, nil
}

func newPool() (*dockertest.Pool, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("could not connect to docker: %w", err)
	}
	pool.MaxWait = 3 * time.Minute
	if _, err := pool.Client.Info(); err != nil {
		return nil, fmt.Errorf("could not connect to docker: %w", err)
	}
	return pool, nil
}

func startService(name string) (*dockertest.Pool, *dockertest.Resource, error) {
	pool, err := newPool()
	if err != nil {
		return nil, nil, err
	}

	apps, err := loadComposeFile()
	if err != nil {
		return nil, nil, err
	}

	svc, ok := apps.Services[name]
	if !ok {
		return nil, nil, fmt.Errorf("no %s service in %s", name, composeFile)
	}

	imgAndVer, err := getImageAndVersion(svc.Image)
	if err != nil {
		return nil, nil, err
	}

	r, err := pool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: imgAndVer[0],
			Tag:        imgAndVer[1],
			Env:        svc.Environment,
		}, configureContainerCleanup,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("could not start %s: %w", name, err)
	}

	return pool, r, nil
}

// StartPostgres runs the compose file's postgres image and points the environment at it.
func StartPostgres() (*dockertest.Resource, error) {
	pool, pg, err := startService("postgres")
	if err != nil {
		return nil, err
	}

	// Patch environment to use container
	hostAndPort := strings.Split(pg.GetHostPort("5432/tcp"), ":")
	viper.Set("POSTGRES_HOST", hostAndPort[0])
	viper.Set("POSTGRES_PORT", hostAndPort[1])
	viper.Set("POSTGRES_USER", "postgres")
	viper.Set("POSTGRES_PASSWORD", "")
	viper.Set("POSTGRES_DB", "postgres")
	viper.Set("ENV", "local")

	if err = pool.Retry(waitOnDB); err != nil {
		pool.Purge(pg)
		return nil, fmt.Errorf("could not connect to postgres: %w", err)
	}

	return pg, nil
}

// StartRedis runs the compose file's redis image and points the environment at it.
func StartRedis() (*dockertest.Resource, error) {
	pool, rd, err := startService("redis")
	if err != nil {
		return nil, err
	}

	// Patch environment to use container
	viper.Set("REDIS_URL", rd.GetHostPort("6379/tcp"))
	viper.Set("REDIS_PASS", "")

	if err = pool.Retry(waitOnCache); err != nil {
		pool.Purge(rd)
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}

	return rd, nil
}
