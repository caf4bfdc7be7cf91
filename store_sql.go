package cas

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Ticket store backed by Postgres. Consumption is a single UPDATE guarded
// by "consumedat IS NULL", which gives us the atomic fetch-if-unconsumed
// guarantee without any explicit locking.
type sqlTicketStore struct {
	db *sql.DB
}

func NewTicketStoreDB_SQL(db *sql.DB) (TicketStore, error) {
	return &sqlTicketStore{db: db}, nil
}

const sqlTicketFields = `ticket, kind, userid, createdat, consumedat, service, isprimary, iou, grantedbypgt, grantedbyst, grantedbypt`

func scanTicket(row interface {
	Scan(dest ...interface{}) error
}) (*Ticket, error) {
	t := &Ticket{}
	var kind int
	var consumedAt sql.NullTime
	var service, iou, grantedByPGT, grantedByST, grantedByPT sql.NullString
	err := row.Scan(&t.Ticket, &kind, &t.UserId, &t.CreatedAt, &consumedAt, &service, &t.IsPrimary, &iou, &grantedByPGT, &grantedByST, &grantedByPT)
	if err != nil {
		return nil, err
	}
	t.Kind = TicketKind(kind)
	if consumedAt.Valid {
		when := consumedAt.Time
		t.ConsumedAt = &when
	}
	t.Service = service.String
	t.IOU = iou.String
	t.GrantedByPGT = grantedByPGT.String
	t.GrantedByST = grantedByST.String
	t.GrantedByPT = grantedByPT.String
	return t, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (x *sqlTicketStore) Create(t *Ticket) error {
	_, err := x.db.Exec(`INSERT INTO casticket (`+sqlTicketFields+`) VALUES ($1, $2, $3, $4, NULL, $5, $6, $7, $8, $9, $10)`,
		t.Ticket, int(t.Kind), t.UserId, t.CreatedAt, nullable(t.Service), t.IsPrimary, nullable(t.IOU), nullable(t.GrantedByPGT), nullable(t.GrantedByST), nullable(t.GrantedByPT))
	return err
}

func (x *sqlTicketStore) Get(ticket string) (*Ticket, error) {
	row := x.db.QueryRow(`SELECT `+sqlTicketFields+` FROM casticket WHERE ticket = $1`, ticket)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	return t, err
}

func (x *sqlTicketStore) AtomicConsume(ticket string, now time.Time) (*Ticket, bool, error) {
	// The WHERE clause makes this a compare-and-swap: of two concurrent
	// callers, exactly one gets a row back from RETURNING.
	row := x.db.QueryRow(`UPDATE casticket SET consumedat = $2 WHERE ticket = $1 AND consumedat IS NULL RETURNING `+sqlTicketFields, ticket, now)
	t, err := scanTicket(row)
	if err == nil {
		return t, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}
	// Either the ticket does not exist, or it was consumed before we got here.
	t, err = x.Get(ticket)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (x *sqlTicketStore) DeleteInvalid(now time.Time, expiry time.Duration) (int, error) {
	result, err := x.db.Exec(`DELETE FROM casticket WHERE consumedat IS NOT NULL OR createdat <= $1`, now.Add(-expiry))
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

func (x *sqlTicketStore) ListByUser(userId string) ([]*Ticket, error) {
	rows, err := x.db.Query(`SELECT `+sqlTicketFields+` FROM casticket WHERE userid = $1`, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (x *sqlTicketStore) ConsumeAllForUser(userId string, now time.Time) error {
	_, err := x.db.Exec(`UPDATE casticket SET consumedat = $2 WHERE userid = $1 AND consumedat IS NULL`, userId, now)
	return err
}

func (x *sqlTicketStore) Close() {
}
