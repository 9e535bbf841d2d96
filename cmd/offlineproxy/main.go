package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/net/http2"

	"github.com/scoutscode/offlineproxy"
	"github.com/scoutscode/offlineproxy/bucket"
	"github.com/scoutscode/offlineproxy/queue"
)

//Config is the structure for the configuration file
type Config struct {
	//ProxyConfig determines how requests are classified and cached
	ProxyConfig ProxyConfig `mapstructure:"proxy_config"`

	//ListenConfig determines how the http server part of the proxy behaves
	ListenConfig ListenConfig `mapstructure:"listen_config"`

	//ForwardConfig determines how requests are forwarded to the origin server
	ForwardConfig ForwardConfig `mapstructure:"forward_config"`

	//LogLevel is the logrus level name, reloaded on config file changes
	LogLevel string `mapstructure:"log_level"`
}

type ProxyConfig struct {
	//Version tags the current bucket generation, bump it to invalidate all caches on activation
	Version string `mapstructure:"version"`

	//SiteOrigin is the public origin of the site, used to classify cross-origin requests
	SiteOrigin string `mapstructure:"site_origin"`

	StaticPrefix string `mapstructure:"static_prefix"`
	APIPrefix    string `mapstructure:"api_prefix"`

	//AssetHosts is the allow-list of third-party hosts cached like first-party statics
	AssetHosts []string `mapstructure:"asset_hosts"`

	AnnotationPath string `mapstructure:"annotation_path"`
	OfflinePath    string `mapstructure:"offline_path"`
	CoreRulesPath  string `mapstructure:"core_rules_path"`
	CardsAPIPath   string `mapstructure:"cards_api_path"`

	ImageCacheLimit int `mapstructure:"image_cache_limit"`

	//Precache is the ordered list of URLs fetched at install, install fails when any of them fails
	Precache []string `mapstructure:"precache"`

	//InstallTimeout bounds the install-time precache pass
	InstallTimeout string `mapstructure:"install_timeout"`

	//QueuePath is the directory of the persistent pending-mutation store
	QueuePath string `mapstructure:"queue_path"`
}

type ForwardConfig struct {
	//Host is the hostname (and optional port) of the origin server
	Host string `mapstructure:"host"`

	//EnableTLS if true the connection to the origin server uses TLS
	EnableTLS bool `mapstructure:"tls"`
}

type ListenConfig struct {
	//ListenAddress is the address on which the proxy will listen for http connections
	ListenAddress string `mapstructure:"address"`

	//EnableTLS if true the proxy will also listen for tls/https connections
	EnableTLS bool `mapstructure:"tls"`

	//TLSListenAddress is the address on which the proxy will listen for https connections
	TLSListenAddress string `mapstructure:"tls_address"`

	TLSCertificates []TLSCertificate `mapstructure:"tls_certs"`

	//EnableHTTP2 if true the https listener will accept HTTP2 connections
	EnableHTTP2 bool `mapstructure:"http2"`
}

type TLSCertificate struct {
	CertificatePath string `mapstructure:"cert"`
	KeyPath         string `mapstructure:"key"`
}

func (conf *ProxyConfig) toRealConfig() (*offlineproxy.Config, error) {
	config := offlineproxy.NewConfig()

	if conf.Version != "" {
		config.Version = conf.Version
	}
	if conf.SiteOrigin != "" {
		config.SiteOrigin = conf.SiteOrigin
	}
	if conf.StaticPrefix != "" {
		config.StaticPrefix = conf.StaticPrefix
	}
	if conf.APIPrefix != "" {
		config.APIPrefix = conf.APIPrefix
	}
	if len(conf.AssetHosts) > 0 {
		config.AssetHosts = conf.AssetHosts
	}
	if conf.AnnotationPath != "" {
		config.AnnotationPath = conf.AnnotationPath
	}
	if conf.OfflinePath != "" {
		config.OfflinePath = conf.OfflinePath
	}
	if conf.CoreRulesPath != "" {
		config.CoreRulesPath = conf.CoreRulesPath
	}
	if conf.CardsAPIPath != "" {
		config.CardsAPIPath = conf.CardsAPIPath
	}
	if conf.ImageCacheLimit > 0 {
		config.ImageCacheLimit = conf.ImageCacheLimit
	}
	if len(conf.Precache) > 0 {
		config.Precache = conf.Precache
	}

	return config, nil
}

func init() {
	viper.SetDefault("log_level", "info")

	viper.SetDefault("proxy_config.version", "v1")
	viper.SetDefault("proxy_config.site_origin", "https://scoutscode.com")
	viper.SetDefault("proxy_config.static_prefix", "/static/")
	viper.SetDefault("proxy_config.api_prefix", "/api/")
	viper.SetDefault("proxy_config.annotation_path", "/api/save-annotation/")
	viper.SetDefault("proxy_config.offline_path", "/offline/")
	viper.SetDefault("proxy_config.core_rules_path", "/core-rules/")
	viper.SetDefault("proxy_config.cards_api_path", "/api/cards/all/")
	viper.SetDefault("proxy_config.image_cache_limit", 200)
	viper.SetDefault("proxy_config.install_timeout", "1m")
	viper.SetDefault("proxy_config.queue_path", "./data/queue")
	viper.SetDefault("proxy_config.asset_hosts", []string{
		"cdn.jsdelivr.net",
		"fonts.googleapis.com",
		"fonts.gstatic.com",
	})
	viper.SetDefault("proxy_config.precache", []string{
		"/",
		"/posts/",
		"/core-rules/",
		"/cards/",
		"/offline/",
		"/static/css/style.css",
		"/static/favicon.ico",
	})

	viper.SetDefault("listen_config.address", ":8080")
}

var config Config

func main() {
	logger := logrus.New()

	err := initConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while reading config: %s\n", err.Error())
		os.Exit(1)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while unmarshalling config: %s\n", err.Error())
		os.Exit(1)
	}

	applyLogLevel(logger, config.LogLevel)

	//Reload the log level when the config file changes
	viper.OnConfigChange(func(event fsnotify.Event) {
		var updated Config
		if err := viper.Unmarshal(&updated); err != nil {
			logger.WithError(err).Error("Error while reloading config")
			return
		}

		applyLogLevel(logger, updated.LogLevel)
		logger.WithField("file", event.Name).Info("Reloaded config")
	})
	viper.WatchConfig()

	errChan := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		errChan <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	err = startServer(ctx, logger, errChan, &wg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(1)
	}

	if err := <-errChan; err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}

	fmt.Println("Exiting")

	cancel()

	wg.Wait()

	fmt.Println("Exited")
}

func applyLogLevel(logger *logrus.Logger, level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logger.WithField("level", level).Warning("Unknown log level, keeping current level")
		return
	}

	logger.SetLevel(parsed)
}

func startServer(ctx context.Context, logger *logrus.Logger, errChan chan error, wg *sync.WaitGroup) error {

	proxyConfig, err := config.ProxyConfig.toRealConfig()
	if err != nil {
		return err
	}

	queueStore, err := queue.Open(config.ProxyConfig.QueuePath)
	if err != nil {
		return fmt.Errorf("opening queue store: %w", err)
	}

	systemCertPool, err := x509.SystemCertPool()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()

	controller := &offlineproxy.OfflineController{
		Config:  proxyConfig,
		Buckets: bucket.NewSet(nil),
		Queue:   queueStore,
		Forward: &offlineproxy.ForwardConfig{
			Host: config.ForwardConfig.Host,
			TLS:  config.ForwardConfig.EnableTLS,
		},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: systemCertPool,
			},
			DisableCompression: true,
		},
		Metrics: offlineproxy.NewMetrics(registry),
		Logger:  logger,
	}

	//Install and activation are awaited before the proxy serves a single request:
	// a failed precache aborts startup and the stale-bucket sweep must finish first
	installTimeout, err := time.ParseDuration(config.ProxyConfig.InstallTimeout)
	if err != nil {
		return fmt.Errorf("unable to parse 'install_timeout': %w", err)
	}

	installCtx, cancelInstall := context.WithTimeout(ctx, installTimeout)
	defer cancelInstall()

	if err := controller.Install(installCtx); err != nil {
		return fmt.Errorf("install failed: %w", err)
	}

	if err := controller.Activate(); err != nil {
		return fmt.Errorf("activation failed: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/offline-sync/message", controller.MessageHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", controller)

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		httpServer := &http.Server{
			Handler: mux,
		}

		httpListener, err := net.Listen("tcp", config.ListenConfig.ListenAddress)
		if err != nil {
			errChan <- err
			return
		}

		go func() {
			logger.WithField("address", httpListener.Addr().String()).Info("Started listening for http requests")
			errChan <- httpServer.Serve(httpListener)
		}()

		if config.ListenConfig.EnableTLS {
			tlsConfig := &tls.Config{
				Certificates: []tls.Certificate{},
			}

			for _, paths := range config.ListenConfig.TLSCertificates {
				cert, err := tls.LoadX509KeyPair(paths.CertificatePath, paths.KeyPath)
				if err != nil {
					errChan <- err
					return
				}
				tlsConfig.Certificates = append(tlsConfig.Certificates, cert)
			}

			tlsServer := &http.Server{
				Handler:   mux,
				TLSConfig: tlsConfig,
			}

			if config.ListenConfig.EnableHTTP2 {
				if err := http2.ConfigureServer(tlsServer, nil); err != nil {
					errChan <- err
					return
				}
			}

			tlsListener, err := tls.Listen("tcp", config.ListenConfig.TLSListenAddress, tlsServer.TLSConfig)
			if err != nil {
				errChan <- err
				return
			}

			go func() {
				logger.WithField("address", tlsListener.Addr().String()).Info("Started listening for https requests")
				errChan <- tlsServer.Serve(tlsListener)
			}()
		}
	}()

	return nil
}

func initConfig() error {
	flagSet := pflag.NewFlagSet("offlineproxy", pflag.ContinueOnError)

	flagSet.String("config", "config.yaml", "The path to the offlineproxy config file")

	//Make it so that when the -help, --help or -h flag is given the usage is printed and the program exits
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flagSet.PrintDefaults()
		os.Exit(0)
	}

	err := flagSet.Parse(os.Args)
	if err != nil {
		return err
	}

	configPath, err := flagSet.GetString("config")
	if err != nil {
		return err
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	configBytes, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	err = viper.ReadConfig(bytes.NewReader(configBytes))
	if err != nil {
		return err
	}

	return nil
}
