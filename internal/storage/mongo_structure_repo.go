package storage

import (
	"context"
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/entity"
	"github.com/annel0/reef-world/internal/vec"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStructureRepo реализует StructureRepo на MongoDB.
type MongoStructureRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// mongoStructure — представление структуры в MongoDB.
type mongoStructure struct {
	ID          string    `bson:"_id"`
	OwnerID     string    `bson:"owner_id,omitempty"`
	Name        string    `bson:"name"`
	Type        string    `bson:"type"`
	Material    string    `bson:"material"`
	X           float64   `bson:"x"`
	Y           float64   `bson:"y"`
	Z           float64   `bson:"z"`
	Width       float64   `bson:"width"`
	Length      float64   `bson:"length"`
	Height      float64   `bson:"height"`
	ExternalRef string    `bson:"external_ref,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// NewMongoStructureRepo устанавливает соединение и возвращает репозиторий.
func NewMongoStructureRepo(cfg MongoConfig) (*MongoStructureRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "reefworld"
	}
	if cfg.Structures == "" {
		cfg.Structures = "structures"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "не удалось подключиться к MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "не удалось проверить соединение с MongoDB")
	}

	repo := &MongoStructureRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Structures),
		ctxTimeout: 5 * time.Second,
	}

	// Индекс по владельцу для ClearOwner
	ictx, icancel := context.WithTimeout(context.Background(), repo.ctxTimeout)
	defer icancel()
	_, err = repo.collection.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка создания индексов structures")
	}

	return repo, nil
}

// Create сохраняет новую структуру.
func (m *MongoStructureRepo) Create(ctx context.Context, s *entity.Structure) error {
	if s.ID == "" {
		return apperr.New(apperr.KindValidation, "пустой идентификатор структуры")
	}

	doc := toMongoStructure(s)
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Wrap(apperr.KindConflict, err, "структура %s уже существует", s.ID)
		}
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка создания структуры %s", s.ID)
	}
	return nil
}

// GetByID возвращает структуру по идентификатору.
func (m *MongoStructureRepo) GetByID(ctx context.Context, id string) (*entity.Structure, error) {
	var doc mongoStructure
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.New(apperr.KindNotFound, "структура %s не найдена", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка загрузки структуры %s", id)
	}
	return fromMongoStructure(&doc), nil
}

// List возвращает все структуры мира.
func (m *MongoStructureRepo) List(ctx context.Context) ([]*entity.Structure, error) {
	cursor, err := m.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка выборки структур")
	}
	defer cursor.Close(ctx)

	result := make([]*entity.Structure, 0)
	for cursor.Next(ctx) {
		var doc mongoStructure
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка чтения документа структуры")
		}
		result = append(result, fromMongoStructure(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обхода выборки структур")
	}
	return result, nil
}

// Update перезаписывает изменяемые поля структуры.
func (m *MongoStructureRepo) Update(ctx context.Context, s *entity.Structure) error {
	update := bson.M{"$set": bson.M{
		"name": s.Name, "type": string(s.Type), "material": string(s.Material),
		"x": s.Position.X, "y": s.Position.Y, "z": s.Position.Z,
		"width": s.Size.Width, "length": s.Size.Length, "height": s.Size.Height,
		"external_ref": s.ExternalRef,
		"updated_at":   time.Now(),
	}}

	res, err := m.collection.UpdateByID(ctx, s.ID, update)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обновления структуры %s", s.ID)
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.KindNotFound, "структура %s не найдена", s.ID)
	}
	return nil
}

// Delete удаляет структуру.
func (m *MongoStructureRepo) Delete(ctx context.Context, id string) error {
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка удаления структуры %s", id)
	}
	if res.DeletedCount == 0 {
		return apperr.New(apperr.KindNotFound, "структура %s не найдена", id)
	}
	return nil
}

// ClearOwner обнуляет владельца у всех структур агента.
func (m *MongoStructureRepo) ClearOwner(ctx context.Context, ownerID string) error {
	update := bson.M{
		"$unset": bson.M{"owner_id": ""},
		"$set":   bson.M{"updated_at": time.Now()},
	}

	if _, err := m.collection.UpdateMany(ctx, bson.M{"owner_id": ownerID}, update); err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обнуления владельца %s", ownerID)
	}
	return nil
}

// Close закрывает соединение с MongoDB.
func (m *MongoStructureRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func toMongoStructure(s *entity.Structure) *mongoStructure {
	return &mongoStructure{
		ID:       s.ID,
		OwnerID:  s.OwnerID,
		Name:     s.Name,
		Type:     string(s.Type),
		Material: string(s.Material),
		X:        s.Position.X, Y: s.Position.Y, Z: s.Position.Z,
		Width: s.Size.Width, Length: s.Size.Length, Height: s.Size.Height,
		ExternalRef: s.ExternalRef,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func fromMongoStructure(doc *mongoStructure) *entity.Structure {
	return &entity.Structure{
		ID:          doc.ID,
		OwnerID:     doc.OwnerID,
		Name:        doc.Name,
		Type:        entity.StructureType(doc.Type),
		Material:    entity.Material(doc.Material),
		Position:    vec.Vec3{X: doc.X, Y: doc.Y, Z: doc.Z},
		Size:        entity.Size{Width: doc.Width, Length: doc.Length, Height: doc.Height},
		ExternalRef: doc.ExternalRef,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}
