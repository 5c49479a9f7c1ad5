package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const accountSequenceID = "accountNumber"

// write conflict inside a multi-document transaction
const mongoWriteConflict = 112

// MongoDB is the document-database Store. Ledger units run as multi-document
// transactions, so the deployment must be a replica set.
type MongoDB struct {
	client       *mongo.Client
	accounts     *mongo.Collection
	transactions *mongo.Collection
	counters     *mongo.Collection
	audit        *mongo.Collection
}

type accountDoc struct {
	AccountNumber  int64                `bson:"accountNumber"`
	Owner          string               `bson:"owner"`
	Type           string               `bson:"type"`
	Status         string               `bson:"status"`
	Balance        primitive.Decimal128 `bson:"balance"`
	OpeningBalance primitive.Decimal128 `bson:"openingBalance"`
	CreatedOn      time.Time            `bson:"createdOn"`
	Version        int64                `bson:"version"`
}

type transactionDoc struct {
	ID            string               `bson:"_id"`
	AccountNumber int64                `bson:"accountNumber"`
	Type          string               `bson:"type"`
	Amount        primitive.Decimal128 `bson:"amount"`
	OldBalance    primitive.Decimal128 `bson:"oldBalance"`
	NewBalance    primitive.Decimal128 `bson:"newBalance"`
	Cashier       string               `bson:"cashier,omitempty"`
	CreatedOn     time.Time            `bson:"createdOn"`
	Sequence      int64                `bson:"sequence"`
}

type auditDoc struct {
	ID         string    `bson:"_id"`
	Actor      string    `bson:"actor"`
	Action     string    `bson:"action"`
	TargetType string    `bson:"targetType"`
	TargetID   string    `bson:"targetId"`
	Timestamp  time.Time `bson:"timestamp"`
}

// creates a new MongoDB instance
func NewMongoDB(uri, dbName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Mongodb: %w", err)
	}

	// pinging the database
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping Mongodb: %w", err)
	}

	m := newMongoStore(client, client.Database(dbName))
	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func newMongoStore(client *mongo.Client, database *mongo.Database) *MongoDB {
	return &MongoDB{
		client:       client,
		accounts:     database.Collection("accounts"),
		transactions: database.Collection("transactions"),
		counters:     database.Collection("counters"),
		audit:        database.Collection("audit_logs"),
	}
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	_, err := m.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "accountNumber", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "owner", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create account indexes: %w", err)
	}

	_, err = m.transactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "accountNumber", Value: 1}, {Key: "sequence", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create transaction indexes: %w", err)
	}

	_, err = m.audit.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

// closes the mongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// RunInTx runs fn inside a multi-document transaction. fn must use the
// context it is given so its operations join the session.
func (m *MongoDB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, m)
	}

	sess, err := m.client.StartSession()
	if err != nil {
		return models.NewStorageError("start session", err)
	}
	defer sess.EndSession(context.Background())

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(txOpts); err != nil {
		return models.NewStorageError("start transaction", err)
	}

	sc := mongo.NewSessionContext(ctx, sess)
	if err := fn(sc, m); err != nil {
		_ = sess.AbortTransaction(context.Background())
		return mongoErr("transaction", err)
	}

	if err := sess.CommitTransaction(context.Background()); err != nil {
		return mongoErr("commit transaction", err)
	}
	return nil
}

func (m *MongoDB) GetAccount(ctx context.Context, number int64) (*models.Account, error) {
	var doc accountDoc
	err := m.accounts.FindOne(ctx, bson.M{"accountNumber": number}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, accountNotFound()
		}
		return nil, mongoErr("get account", err)
	}
	return doc.toModel()
}

// LockAccount is a plain read: inside a transaction the version check in
// UpdateAccountBalance and the server's write-conflict detection serialize writers.
func (m *MongoDB) LockAccount(ctx context.Context, number int64) (*models.Account, error) {
	return m.GetAccount(ctx, number)
}

func (m *MongoDB) CreateAccount(ctx context.Context, in models.NewAccount) (*models.Account, error) {
	var number int64
	if in.AccountNumber != nil {
		number = *in.AccountNumber
		if err := m.advanceSequence(ctx, number); err != nil {
			return nil, err
		}
	} else {
		next, err := m.nextAccountNumber(ctx)
		if err != nil {
			return nil, err
		}
		number = next
	}

	opening, err := toDecimal128(in.OpeningBalance)
	if err != nil {
		return nil, models.NewValidationError("opening balance is not a valid amount")
	}

	doc := accountDoc{
		AccountNumber:  number,
		Owner:          in.Owner,
		Type:           string(in.Type),
		Status:         string(models.StatusPending),
		Balance:        opening,
		OpeningBalance: opening,
		CreatedOn:      time.Now().UTC().Truncate(time.Millisecond),
		Version:        1,
	}
	if _, err := m.accounts.InsertOne(ctx, doc); err != nil {
		return nil, mongoErr("insert account", err)
	}
	return doc.toModel()
}

// nextAccountNumber atomically increments the account counter. The first
// increment yields models.FirstAccountNumber.
func (m *MongoDB) nextAccountNumber(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": accountSequenceID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, mongoErr("next account number", err)
	}
	return models.FirstAccountNumber + counter.Seq - 1, nil
}

// advanceSequence moves the counter past an explicitly chosen number.
func (m *MongoDB) advanceSequence(ctx context.Context, number int64) error {
	if number < models.FirstAccountNumber {
		return nil
	}
	_, err := m.counters.UpdateOne(ctx,
		bson.M{"_id": accountSequenceID},
		bson.M{"$max": bson.M{"seq": number - models.FirstAccountNumber + 1}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return mongoErr("advance account number", err)
	}
	return nil
}

func (m *MongoDB) UpdateAccountStatus(ctx context.Context, number int64, status models.AccountStatus) (*models.Account, error) {
	var doc accountDoc
	err := m.accounts.FindOneAndUpdate(ctx,
		bson.M{"accountNumber": number},
		bson.M{"$set": bson.M{"status": string(status)}, "$inc": bson.M{"version": int64(1)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, accountNotFound()
		}
		return nil, mongoErr("update account status", err)
	}
	return doc.toModel()
}

func (m *MongoDB) UpdateAccountBalance(ctx context.Context, number int64, expectedVersion int64, newBalance decimal.Decimal) (*models.Account, error) {
	balance, err := toDecimal128(newBalance)
	if err != nil {
		return nil, models.NewValidationError("balance is not a valid amount")
	}

	var doc accountDoc
	err = m.accounts.FindOneAndUpdate(ctx,
		bson.M{"accountNumber": number, "version": expectedVersion},
		bson.M{"$set": bson.M{"balance": balance}, "$inc": bson.M{"version": int64(1)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, getErr := m.GetAccount(ctx, number); getErr != nil {
				return nil, getErr
			}
			return nil, models.NewConflictError(fmt.Errorf("account %d changed since version %d", number, expectedVersion))
		}
		return nil, mongoErr("update account balance", err)
	}
	return doc.toModel()
}

func (m *MongoDB) DeleteAccount(ctx context.Context, number int64) error {
	res, err := m.accounts.DeleteOne(ctx, bson.M{"accountNumber": number})
	if err != nil {
		return mongoErr("delete account", err)
	}
	if res.DeletedCount == 0 {
		return accountNotFound()
	}
	return nil
}

func (m *MongoDB) ListAccounts(ctx context.Context, filter models.AccountFilter) ([]*models.Account, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.Owner != "" {
		query["owner"] = filter.Owner
	}

	cursor, err := m.accounts.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "accountNumber", Value: 1}}))
	if err != nil {
		return nil, mongoErr("find accounts", err)
	}
	defer cursor.Close(ctx)

	var docs []accountDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr("decode accounts", err)
	}

	accounts := make([]*models.Account, 0, len(docs))
	for i := range docs {
		a, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (m *MongoDB) AppendTransaction(ctx context.Context, tx *models.TransactionRecord) (*models.TransactionRecord, error) {
	rec := *tx
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedOn.IsZero() {
		rec.CreatedOn = time.Now().UTC().Truncate(time.Millisecond)
	}

	doc, err := newTransactionDoc(&rec)
	if err != nil {
		return nil, err
	}
	if _, err := m.transactions.InsertOne(ctx, doc); err != nil {
		return nil, mongoErr("insert transaction", err)
	}
	return &rec, nil
}

func (m *MongoDB) ListTransactions(ctx context.Context, accountNumber int64, limit, offset int) ([]*models.TransactionRecord, error) {
	limit, offset = NormalizePage(limit, offset)

	opts := options.Find().
		SetSort(bson.D{{Key: "sequence", Value: -1}, {Key: "createdOn", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := m.transactions.Find(ctx, bson.M{"accountNumber": accountNumber}, opts)
	if err != nil {
		return nil, mongoErr("find transactions", err)
	}
	defer cursor.Close(ctx)

	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr("decode transactions", err)
	}

	out := make([]*models.TransactionRecord, 0, len(docs))
	for i := range docs {
		rec, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MongoDB) GetTransaction(ctx context.Context, id string) (*models.TransactionRecord, error) {
	var doc transactionDoc
	err := m.transactions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, transactionNotFound()
		}
		return nil, mongoErr("get transaction", err)
	}
	return doc.toModel()
}

func (m *MongoDB) InsertAudit(ctx context.Context, entry *models.AuditEntry) error {
	doc := auditDoc{
		ID:         entry.ID,
		Actor:      entry.Actor,
		Action:     entry.Action,
		TargetType: entry.TargetType,
		TargetID:   entry.TargetID,
		Timestamp:  entry.Timestamp,
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now().UTC()
	}
	if _, err := m.audit.InsertOne(ctx, doc); err != nil {
		// redelivered queue message
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return mongoErr("insert audit entry", err)
	}
	return nil
}

func (m *MongoDB) ListAudit(ctx context.Context, limit, offset int) ([]*models.AuditEntry, error) {
	limit, offset = NormalizePage(limit, offset)

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := m.audit.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, mongoErr("find audit entries", err)
	}
	defer cursor.Close(ctx)

	var docs []auditDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, mongoErr("decode audit entries", err)
	}

	out := make([]*models.AuditEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, &models.AuditEntry{
			ID:         d.ID,
			Actor:      d.Actor,
			Action:     d.Action,
			TargetType: d.TargetType,
			TargetID:   d.TargetID,
			Timestamp:  d.Timestamp,
		})
	}
	return out, nil
}

func (d *accountDoc) toModel() (*models.Account, error) {
	balance, err := fromDecimal128(d.Balance)
	if err != nil {
		return nil, err
	}
	opening, err := fromDecimal128(d.OpeningBalance)
	if err != nil {
		return nil, err
	}
	return &models.Account{
		AccountNumber:  d.AccountNumber,
		Owner:          d.Owner,
		Type:           models.AccountType(d.Type),
		Status:         models.AccountStatus(d.Status),
		Balance:        balance,
		OpeningBalance: opening,
		CreatedOn:      d.CreatedOn,
		Version:        d.Version,
	}, nil
}

func newTransactionDoc(rec *models.TransactionRecord) (*transactionDoc, error) {
	amount, err := toDecimal128(rec.Amount)
	if err != nil {
		return nil, models.NewValidationError("amount is not a valid number")
	}
	oldBalance, err := toDecimal128(rec.OldBalance)
	if err != nil {
		return nil, models.NewValidationError("old balance is not a valid number")
	}
	newBalance, err := toDecimal128(rec.NewBalance)
	if err != nil {
		return nil, models.NewValidationError("new balance is not a valid number")
	}
	return &transactionDoc{
		ID:            rec.ID,
		AccountNumber: rec.AccountNumber,
		Type:          string(rec.Type),
		Amount:        amount,
		OldBalance:    oldBalance,
		NewBalance:    newBalance,
		Cashier:       rec.Cashier,
		CreatedOn:     rec.CreatedOn,
		Sequence:      rec.Sequence,
	}, nil
}

func (d *transactionDoc) toModel() (*models.TransactionRecord, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return nil, err
	}
	oldBalance, err := fromDecimal128(d.OldBalance)
	if err != nil {
		return nil, err
	}
	newBalance, err := fromDecimal128(d.NewBalance)
	if err != nil {
		return nil, err
	}
	return &models.TransactionRecord{
		ID:            d.ID,
		AccountNumber: d.AccountNumber,
		Type:          models.TransactionType(d.Type),
		Amount:        amount,
		OldBalance:    oldBalance,
		NewBalance:    newBalance,
		Cashier:       d.Cashier,
		CreatedOn:     d.CreatedOn,
		Sequence:      d.Sequence,
	}, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	return primitive.ParseDecimal128(d.String())
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero, models.NewStorageError("decode decimal", err)
	}
	return v, nil
}

// mongoErr maps driver failures onto the ledger's error kinds.
func mongoErr(op string, err error) error {
	var appErr *models.Error
	if errors.As(err, &appErr) {
		return err
	}
	if mongo.IsDuplicateKeyError(err) {
		return models.NewConflictError(fmt.Errorf("%s: %w", op, err))
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) &&
		(serverErr.HasErrorLabel("TransientTransactionError") || serverErr.HasErrorCode(mongoWriteConflict)) {
		return models.NewConflictError(fmt.Errorf("%s: %w", op, err))
	}
	return models.NewStorageError(op, err)
}
