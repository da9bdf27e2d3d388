package implementation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	mqtmodels "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Repository/Interfaces"
)

type PostgresSubscriptionTopicRepository struct {
	db     *sql.DB
	table  string
	scheme mqtmodels.TopicScheme
}

var _ interfaces.SubscriptionTopicRepository = (*PostgresSubscriptionTopicRepository)(nil)

func NewPostgresSubscriptionTopicRepository(db *sql.DB, table string, scheme mqtmodels.TopicScheme) *PostgresSubscriptionTopicRepository {
	return &PostgresSubscriptionTopicRepository{db: db, table: table, scheme: scheme}
}

func (r *PostgresSubscriptionTopicRepository) Scheme() mqtmodels.TopicScheme {
	return r.scheme
}

// Read every desired subscription row. Only the columns the active scheme
// needs are selected.
func (r *PostgresSubscriptionTopicRepository) ListDesired(ctx context.Context) ([]mqtmodels.DesiredSubscription, error) {
	columns := "topic_prefix, device_name"
	if r.scheme == mqtmodels.TopicSchemeOrgDevice {
		columns = "organization_id, device_id"
	}
	query := fmt.Sprintf("SELECT %s FROM %s", columns, pq.QuoteIdentifier(r.table))

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.table, err)
	}
	defer rows.Close()

	var subs []mqtmodels.DesiredSubscription
	for rows.Next() {
		var s mqtmodels.DesiredSubscription
		if r.scheme == mqtmodels.TopicSchemeOrgDevice {
			err = rows.Scan(&s.OrganizationID, &s.DeviceID)
		} else {
			err = rows.Scan(&s.TopicPrefix, &s.DeviceName)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.table, err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", r.table, err)
	}
	return subs, nil
}

func (r *PostgresSubscriptionTopicRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
