// Package graph mirrors the catalog into Neo4j so variant relationships can be
// queried by other services and used as the sibling source for prompts.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/pkg/circuitbreaker"
	"github.com/product-agent/backend/pkg/logger"
	"github.com/product-agent/backend/pkg/retry"
)

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.Logger = logger.GetLogger()

	logger.Info("Neo4j catalog graph initialized", zap.String("uri", uri))

	return &Client{
		driver:   driver,
		database: database,
		cb: circuitbreaker.New("neo4j", circuitbreaker.Config{
			MaxRequests:      3,
			OpenTimeout:      20 * time.Second,
			FailureThreshold: 5,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) write(ctx context.Context, work neo4j.ManagedTransactionWork) error {
	return c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
			defer session.Close(ctx)
			_, err := session.ExecuteWrite(ctx, work)
			return err
		})
	})
}

// Sync upserts every product, model and error code of the catalog.
func (c *Client) Sync(ctx context.Context, cat *catalog.Catalog) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	const upsertModel = `
		MERGE (p:Product {id: $product_id})
		SET p.name = $product_name, p.brand = $brand, p.category = $category
		MERGE (m:Model {id: $model_id})
		SET m.color = $color, m.price = $price, m.warranty_years = $warranty
		MERGE (p)-[:HAS_VARIANT]->(m)
		WITH m
		UNWIND $issues AS issue
		MERGE (e:ErrorCode {model_id: m.id, code: issue.code})
		SET e.meaning = issue.meaning, e.fix = issue.fix
		MERGE (m)-[:HAS_ISSUE]->(e)
	`

	count := 0
	for _, match := range cat.All() {
		issues := make([]map[string]any, 0, len(match.Model.CommonIssues))
		for _, is := range match.Model.CommonIssues {
			issues = append(issues, map[string]any{"code": is.Error, "meaning": is.Meaning, "fix": is.Fix})
		}
		params := map[string]any{
			"product_id":   match.Product.ProductID,
			"product_name": match.Product.Name,
			"brand":        match.Product.Brand,
			"category":     match.Product.Category,
			"model_id":     match.Model.ModelID,
			"color":        match.Model.Color,
			"price":        match.Model.Price,
			"warranty":     match.Model.WarrantyYears,
			"issues":       issues,
		}

		err := c.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, upsertModel, params)
			return nil, err
		})
		if err != nil {
			return fmt.Errorf("failed to sync model %s: %w", match.Model.ModelID, err)
		}
		count++
	}

	logger.Info("Catalog synced to graph", zap.Int("models", count))
	return nil
}

// Siblings returns the ids of the other variants in the same product line.
func (c *Client) Siblings(ctx context.Context, modelID string) ([]string, error) {
	const query = `
		MATCH (m:Model {id: $model_id})<-[:HAS_VARIANT]-(p:Product)-[:HAS_VARIANT]->(s:Model)
		WHERE s.id <> $model_id
		RETURN s.id AS id
		ORDER BY s.id
	`

	var ids []string
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{
			DatabaseName: c.database,
			AccessMode:   neo4j.AccessModeRead,
		})
		defer session.Close(ctx)

		result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, query, map[string]any{"model_id": modelID})
			if err != nil {
				return nil, err
			}
			records, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]string, 0, len(records))
			for _, record := range records {
				if id, ok := record.Get("id"); ok {
					if s, ok := id.(string); ok {
						out = append(out, s)
					}
				}
			}
			return out, nil
		})
		if err != nil {
			return err
		}
		ids = result.([]string)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query siblings: %w", err)
	}
	return ids, nil
}
