package base

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

type MQTTTopic struct {
	Topic    string `json:"Topic" yaml:"topic"`
	Qos      int    `json:"Qos" yaml:"qos"`
	Retained bool   `json:"Retained" yaml:"retained"`
}

type MQTT struct {
	Enable       bool      `json:"Enable" yaml:"enable"`
	WhiteList    MQTTTopic `json:"WhiteList" yaml:"whitelist"`
	NonWhiteList MQTTTopic `json:"NonWhiteList" yaml:"nonWhitelist"`
	Broker       string    `json:"Broker" yaml:"broker"`
	Clientid     string    `json:"Clientid" yaml:"clientId"`
	Username     string    `json:"Username" yaml:"username"`
	Password     string    `json:"Password" yaml:"password"`
	KeepAlive    uint16    `json:"KeepAlive" yaml:"keepAlive"`
}

type HttpServer struct {
	ServerAddr      string        `json:"ServerAddr" yaml:"serverAddr"` // in the form "host:port"
	HealthCheckURI  string        `json:"HealthCheckURI" yaml:"healthCheckUri"`
	WhiteListURI    string        `json:"WhiteListURI" yaml:"whitelistUri"`
	ShutdownTimeout time.Duration `json:"ShutdownTimeout" yaml:"shutdownTimeout"`
}

type LOG struct {
	LogToFile    bool   `json:"LogToFile" yaml:"logToFile"`
	Dir          string `json:"Dir" yaml:"dir"`
	Format       string `json:"Format" yaml:"format"`     // json, text
	LogLevel     string `json:"LogLevel" yaml:"logLevel"` // panic, fatal, error, warn warning, info, debug, trace
	ReportCaller bool   `json:"ReportCaller" yaml:"reportCaller"`
}

type UdpServer struct {
	Host string `json:"Host" yaml:"host"`
}

type Filter struct {
	IsFilterFrame  bool `json:"IsFilterFrame" yaml:"isFilterFrame"`
	FilterInterval int  `json:"FilterInterval" yaml:"filterInterval"` // ms
}

type DBC struct {
	DBCPath  string `json:"DBCPath" yaml:"dbcPath"`
	Encoding string `json:"Encoding" yaml:"encoding"` // empty means strict UTF-8
	Lossy    bool   `json:"Lossy" yaml:"lossy"`
}

type Config struct {
	MQTT              `json:"MQTT" yaml:"mqtt"`
	HttpServer        `json:"HttpServer" yaml:"httpServer"`
	DBC               `json:"DBC" yaml:"dbc"`
	LOG               `json:"LOG" yaml:"log"`
	Filter            `json:"Filter" yaml:"filter"`
	UdpServer         `json:"UdpServer" yaml:"udpServer"`
	DataChanSize      uint   `json:"DataChanSize" yaml:"dataChanSize"`
	WorkRoutines      int    `json:"WorkRoutines" yaml:"workRoutines"`
	DecodeUdpRoutines int    `json:"DecodeUdpRoutines" yaml:"decodeUdpRoutines"`
	WhiteListFile     string `json:"WhiteListFile" yaml:"whitelistFile"`
	EnableWhiteList   bool   `json:"EnableWhiteList" yaml:"enableWhitelist"`
	Bidirection       bool   `json:"Bidirection" yaml:"bidirection"`
}

func NewConfig() *Config {
	return &Config{
		MQTT: MQTT{
			WhiteList:    MQTTTopic{Topic: "can/signals"},
			NonWhiteList: MQTTTopic{Topic: "can/raw"},
			Broker:       "127.0.0.1:1883",
			Clientid:     "candbc",
			KeepAlive:    30,
		},
		HttpServer: HttpServer{
			ServerAddr:      "127.0.0.1:8080",
			HealthCheckURI:  "/ping",
			WhiteListURI:    "/whitelist",
			ShutdownTimeout: 5 * time.Second,
		},
		DBC:               DBC{DBCPath: "./can.dbc"},
		LOG:               LOG{Dir: "./log", Format: "text", LogLevel: "info"},
		Filter:            Filter{IsFilterFrame: true, FilterInterval: 10},
		UdpServer:         UdpServer{Host: "127.0.0.1:7000"},
		DataChanSize:      10000,
		WorkRoutines:      4,
		DecodeUdpRoutines: 4,
		WhiteListFile:     "./whitelist.json",
	}
}

// LoadConfig reads path over the defaults of NewConfig. YAML files are
// recognised by extension, everything else is decoded as JSON.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	cfg := NewConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = jsoniter.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}

	return cfg, nil
}
