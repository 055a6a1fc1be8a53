package config

import (
	"github.com/openzipkin/zipkin-go"
	"github.com/openzipkin/zipkin-go/reporter/http"
)

type ZipkinConfig struct {
	Url string `yaml:"url"`
	// SampleRate 采样率 (0,1]，未配置时全部采样
	SampleRate float64 `yaml:"sample-rate"`
}

func (c ZipkinConfig) sampler() (zipkin.Sampler, error) {
	if c.SampleRate <= 0 || c.SampleRate >= 1 {
		return zipkin.AlwaysSample, nil
	}
	return zipkin.NewBoundarySampler(c.SampleRate, 0)
}

// InitZipkin 创建 zipkin tracer，未配置上报地址时返回 nil
func InitZipkin(zipkinConfig ZipkinConfig, appName, host string) (*zipkin.Tracer, error) {
	if zipkinConfig.Url == "" {
		return nil, nil
	}
	sampler, err := zipkinConfig.sampler()
	if err != nil {
		return nil, err
	}
	endpoint, err := zipkin.NewEndpoint(appName, host)
	if err != nil {
		return nil, err
	}
	return zipkin.NewTracer(
		http.NewReporter(zipkinConfig.Url),
		zipkin.WithLocalEndpoint(endpoint),
		zipkin.WithSampler(sampler),
	)
}
