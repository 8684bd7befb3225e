package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/types"
)

// DynamoDBStore implements SegmentStore and flow persistence using AWS
// DynamoDB. Concurrency control is a conditional write on the Version
// attribute: the row is only replaced when nobody else wrote it since
// it was read.
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

// CreateSegment inserts a new segment row, failing if one already
// exists for the same tenant and call ID
func (s *DynamoDBStore) CreateSegment(ctx context.Context, seg *types.CallSegment) error {
	seg.Version = 1
	item, err := attributevalue.MarshalMap(seg)
	if err != nil {
		return fmt.Errorf("failed to marshal segment: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.config.SegmentsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(CallID)"),
	})
	if err != nil {
		var conditionFailed *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrSegmentExists
		}
		return fmt.Errorf("failed to create segment: %w", err)
	}
	return nil
}

// GetSegment loads one segment by tenant and caller-leg call ID
func (s *DynamoDBStore) GetSegment(ctx context.Context, tenantID, callID string) (*types.CallSegment, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.SegmentsTable),
		Key: map[string]dbtypes.AttributeValue{
			"TenantID": &dbtypes.AttributeValueMemberS{Value: tenantID},
			"CallID":   &dbtypes.AttributeValueMemberS{Value: callID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	if result.Item == nil {
		return nil, ErrSegmentNotFound
	}

	var seg types.CallSegment
	if err := attributevalue.UnmarshalMap(result.Item, &seg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segment: %w", err)
	}
	return &seg, nil
}

// UpdateSegment replaces the segment row if and only if the stored
// Version still matches the one the caller read
func (s *DynamoDBStore) UpdateSegment(ctx context.Context, seg *types.CallSegment) error {
	readVersion := seg.Version
	seg.Version++
	item, err := attributevalue.MarshalMap(seg)
	if err != nil {
		seg.Version = readVersion
		return fmt.Errorf("failed to marshal segment: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.config.SegmentsTable),
		Item:                item,
		ConditionExpression: aws.String("Version = :v"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":v": &dbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", readVersion)},
		},
	})
	if err != nil {
		seg.Version = readVersion
		var conditionFailed *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to update segment: %w", err)
	}
	return nil
}

// GetChain returns all segments of a chain ordered by segment number.
// Transfer call IDs share the chain ID as a prefix, so a begins_with
// key condition narrows the read before the chain filter.
func (s *DynamoDBStore) GetChain(ctx context.Context, tenantID, chainID string) ([]types.CallSegment, error) {
	keyCond := expression.Key("TenantID").Equal(expression.Value(tenantID)).
		And(expression.Key("CallID").BeginsWith(chainID))
	filter := expression.Name("ChainID").Equal(expression.Value(chainID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.SegmentsTable),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query chain: %w", err)
	}

	var segments []types.CallSegment
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &segments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].SegmentNumber < segments[j].SegmentNumber
	})
	return segments, nil
}

// FindSegmentByLeg locates a segment by any leg ID it owns. The caller
// leg is the row key; agent legs require a filtered scan over AllLegs.
// A GSI on leg IDs would avoid the scan but transfers are rare enough
// that the scan cost is acceptable.
func (s *DynamoDBStore) FindSegmentByLeg(ctx context.Context, tenantID, legID string) (*types.CallSegment, error) {
	seg, err := s.GetSegment(ctx, tenantID, legID)
	if err == nil {
		return seg, nil
	}
	if !errors.Is(err, ErrSegmentNotFound) {
		return nil, err
	}

	filter := expression.Name("TenantID").Equal(expression.Value(tenantID)).
		And(expression.Name("AllLegs").Contains(legID))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.SegmentsTable),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan for leg: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, ErrSegmentNotFound
	}

	var segments []types.CallSegment
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &segments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
	}
	return &segments[0], nil
}

// GetFlowForLine loads the flow configured for a tenant phone line
func (s *DynamoDBStore) GetFlowForLine(ctx context.Context, tenantID, lineID string) (*types.FlowDefinition, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.FlowsTable),
		Key: map[string]dbtypes.AttributeValue{
			"TenantID": &dbtypes.AttributeValueMemberS{Value: tenantID},
			"LineID":   &dbtypes.AttributeValueMemberS{Value: lineID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}
	if result.Item == nil {
		return nil, flow.ErrFlowNotFound
	}

	var def types.FlowDefinition
	if err := attributevalue.UnmarshalMap(result.Item, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return &def, nil
}

// PutFlow stores a flow definition for a line
func (s *DynamoDBStore) PutFlow(ctx context.Context, def *types.FlowDefinition) error {
	item, err := attributevalue.MarshalMap(def)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.FlowsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put flow: %w", err)
	}
	return nil
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Backend, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none), using in-memory store")
		return NewMemoryStore(), nil
	}
}

// Backend is the full persistence surface the server wires up
type Backend interface {
	SegmentStore
	GetFlowForLine(ctx context.Context, tenantID, lineID string) (*types.FlowDefinition, error)
	PutFlow(ctx context.Context, def *types.FlowDefinition) error
}
