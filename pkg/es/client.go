// Package es 提供了 Elasticsearch 客户端初始化与向量索引创建。
package es

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"secure-rag-go/internal/config"
	"secure-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// Similarity 将配置中的相似度名称转换为 dense_vector 的 similarity 取值。
func Similarity(metric string) (string, error) {
	switch strings.ToLower(metric) {
	case "", "cosine":
		return "cosine", nil
	case "dotproduct", "dot_product":
		return "dot_product", nil
	case "euclidean", "l2", "l2_norm":
		return "l2_norm", nil
	default:
		return "", fmt.Errorf("unsupported similarity metric %q", metric)
	}
}

// IndexMapping 返回向量索引的 mapping。metadata 下的字符串统一映射为 keyword，
// 以便对其做 term 过滤；超长字符串（例如加密载荷）只保存在 _source 中不建索引。
func IndexMapping(dims int, similarity string) map[string]interface{} {
	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"dynamic_templates": []map[string]interface{}{
				{
					"metadata_strings": map[string]interface{}{
						"path_match":         "metadata.*",
						"match_mapping_type": "string",
						"mapping": map[string]interface{}{
							"type":         "keyword",
							"ignore_above": 256,
						},
					},
				},
			},
			"properties": map[string]interface{}{
				"vector_id": map[string]interface{}{"type": "keyword"},
				"values": map[string]interface{}{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": similarity,
				},
				"metadata": map[string]interface{}{"type": "object", "dynamic": true},
			},
		},
	}
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int, metric string) error {
	similarity, err := Similarity(metric)
	if err != nil {
		return err
	}

	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	body, err := json.Marshal(IndexMapping(dims, similarity))
	if err != nil {
		return err
	}
	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(string(body))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.Status())
		return fmt.Errorf("创建索引时 Elasticsearch 返回错误: %s", res.Status())
	}

	log.Infof("索引 '%s' 创建成功, dims: %d, similarity: %s", indexName, dims, similarity)
	return nil
}
