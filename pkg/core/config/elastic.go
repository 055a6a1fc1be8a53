package config

import (
	"errors"
	"strings"
	"time"

	"github.com/olivere/elastic/v7"
)

type ES struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InitES 多个地址用逗号分隔，日志投递只做批量写入，关闭嗅探与后台健康检查
func InitES(es ES, proxyConfig ProxyConfig) (*elastic.Client, error) {
	var urls []string
	for _, u := range strings.Split(es.Host, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("未配置 Elasticsearch 地址")
	}

	options := []elastic.ClientOptionFunc{
		elastic.SetURL(urls...),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
		elastic.SetGzip(true),
		elastic.SetHttpClient(proxyConfig.GetHTTPClient(30 * time.Second)),
	}
	if es.Username != "" && es.Password != "" {
		options = append(options, elastic.SetBasicAuth(es.Username, es.Password))
	}
	return elastic.NewClient(options...)
}
