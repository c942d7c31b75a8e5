package database

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ConnectDynamoDB creates a DynamoDB client using environment variables.
//
// Supported env vars (local-friendly):
//   - AWS_REGION (default: us-east-1)
//   - AWS_ACCESS_KEY_ID (default: local)
//   - AWS_SECRET_ACCESS_KEY (default: local)
//   - DYNAMODB_ENDPOINT (optional; e.g. http://dynamodb:8000)
//   - DYNAMODB_BOOTSTRAP_TABLES (optional; create missing tables, local only)
func ConnectDynamoDB() *dynamodb.Client {
	cfg, err := NewDynamoDBConfigFromEnv(context.Background())
	if err != nil {
		log.Fatalf("failed to create dynamodb config: %v", err)
	}
	client := dynamodb.NewFromConfig(cfg)

	if os.Getenv("DYNAMODB_BOOTSTRAP_TABLES") != "" {
		if err := EnsureTables(context.Background(), client); err != nil {
			log.Fatalf("failed to bootstrap dynamodb tables: %v", err)
		}
	}
	return client
}

func NewDynamoDBConfigFromEnv(ctx context.Context) (aws.Config, error) {
	region := getenvDefault("AWS_REGION", "us-east-1")
	endpoint := os.Getenv("DYNAMODB_ENDPOINT")

	// Local DynamoDB does not validate credentials, but the AWS SDK requires them.
	creds := credentials.NewStaticCredentialsProvider(
		getenvDefault("AWS_ACCESS_KEY_ID", "local"),
		getenvDefault("AWS_SECRET_ACCESS_KEY", "local"),
		"",
	)

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(creds),
	}

	if endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == dynamodb.ServiceID {
				return aws.Endpoint{URL: endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(resolver))
	}

	return config.LoadDefaultConfig(ctx, loadOpts...)
}

// EnsureTables creates the payment-core tables when they do not exist yet.
// Intended for local DynamoDB; production tables are provisioned out of band.
func EnsureTables(ctx context.Context, client *dynamodb.Client) error {
	type gsiSpec struct {
		index   string
		hashKey string
	}
	tables := []struct {
		name    string
		hashKey string
		gsis    []gsiSpec
	}{
		{
			name:    getenvDefault("PAYMENTS_TABLE", "payments"),
			hashKey: "id",
			gsis: []gsiSpec{
				{"order_id-index", "order_id"},
				{"session_id-index", "gateway_session_id"},
				{"idempotency_key-index", "idempotency_key"},
			},
		},
		{
			name:    getenvDefault("PAYMENT_TRANSACTIONS_TABLE", "payment_transactions"),
			hashKey: "id",
			gsis: []gsiSpec{
				{"payment_id-index", "payment_id"},
			},
		},
		{
			name:    getenvDefault("PAYMENT_CLAIMS_TABLE", "payment_claims"),
			hashKey: "claim_id",
		},
	}

	for _, t := range tables {
		attrs := []types.AttributeDefinition{
			{AttributeName: aws.String(t.hashKey), AttributeType: types.ScalarAttributeTypeS},
		}
		var gsis []types.GlobalSecondaryIndex
		for _, g := range t.gsis {
			attrs = append(attrs, types.AttributeDefinition{
				AttributeName: aws.String(g.hashKey),
				AttributeType: types.ScalarAttributeTypeS,
			})
			gsis = append(gsis, types.GlobalSecondaryIndex{
				IndexName: aws.String(g.index),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(g.hashKey), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			})
		}

		_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(t.name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(t.hashKey), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions:   attrs,
			GlobalSecondaryIndexes: gsis,
			BillingMode:            types.BillingModePayPerRequest,
		})
		if err != nil {
			var exists *types.ResourceInUseException
			if errors.As(err, &exists) {
				continue
			}
			return err
		}
		log.Printf("[payment][database] created table %s", t.name)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
