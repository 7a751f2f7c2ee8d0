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

// MongoConfig содержит настройки подключения к MongoDB.
type MongoConfig struct {
	URI        string // например mongodb://localhost:27017
	Database   string // например reefworld
	Agents     string // коллекция агентов (по умолчанию agents)
	Structures string // коллекция структур (по умолчанию structures)
}

// MongoAgentRepo реализует AgentRepo на MongoDB.
// Альтернатива MariaDB для развертываний без реляционной БД.
type MongoAgentRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// mongoAgent — представление записи агента в MongoDB.
type mongoAgent struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	X         float64   `bson:"x"`
	Y         float64   `bson:"y"`
	Z         float64   `bson:"z"`
	VX        float64   `bson:"vx"`
	VY        float64   `bson:"vy"`
	VZ        float64   `bson:"vz"`
	Yaw       float64   `bson:"yaw"`
	Pitch     float64   `bson:"pitch"`
	Roll      float64   `bson:"roll"`
	Animation string    `bson:"animation"`
	Active    bool      `bson:"active"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoAgentRepo устанавливает соединение и возвращает репозиторий.
func NewMongoAgentRepo(cfg MongoConfig) (*MongoAgentRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "reefworld"
	}
	if cfg.Agents == "" {
		cfg.Agents = "agents"
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

	repo := &MongoAgentRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Agents),
		ctxTimeout: 5 * time.Second,
	}

	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *MongoAgentRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()

	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "active", Value: 1}, {Key: "updated_at", Value: 1}},
		},
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка создания индексов agents")
	}
	return nil
}

// Create создает запись агента при регистрации.
func (m *MongoAgentRepo) Create(ctx context.Context, agent *entity.Agent) error {
	if agent.ID == "" {
		return apperr.New(apperr.KindValidation, "пустой идентификатор агента")
	}

	doc := toMongoAgent(agent)
	doc.UpdatedAt = time.Now()

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperr.Wrap(apperr.KindConflict, err, "агент %s уже существует", agent.ID)
		}
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка создания агента %s", agent.ID)
	}
	return nil
}

// UpsertPosition заменяет изменяемые поля позиции существующего агента.
func (m *MongoAgentRepo) UpsertPosition(ctx context.Context, id string, pos, vel vec.Vec3, orient entity.Orientation, anim entity.Animation) error {
	update := bson.M{"$set": bson.M{
		"x": pos.X, "y": pos.Y, "z": pos.Z,
		"vx": vel.X, "vy": vel.Y, "vz": vel.Z,
		"yaw": orient.Yaw, "pitch": orient.Pitch, "roll": orient.Roll,
		"animation":  string(anim),
		"updated_at": time.Now(),
	}}

	res, err := m.collection.UpdateByID(ctx, id, update)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обновления позиции агента %s", id)
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}
	return nil
}

// SetActive переключает флаг активности агента.
func (m *MongoAgentRepo) SetActive(ctx context.Context, id string, active bool) error {
	update := bson.M{"$set": bson.M{"active": active, "updated_at": time.Now()}}

	res, err := m.collection.UpdateByID(ctx, id, update)
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка переключения активности агента %s", id)
	}
	if res.MatchedCount == 0 {
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}
	return nil
}

// GetByID возвращает запись агента по идентификатору.
func (m *MongoAgentRepo) GetByID(ctx context.Context, id string) (*entity.Agent, error) {
	return m.findOne(ctx, bson.M{"_id": id}, id)
}

// GetByName возвращает запись агента по имени.
func (m *MongoAgentRepo) GetByName(ctx context.Context, name string) (*entity.Agent, error) {
	return m.findOne(ctx, bson.M{"name": name}, name)
}

// ListActive возвращает всех активных агентов.
func (m *MongoAgentRepo) ListActive(ctx context.Context) ([]*entity.Agent, error) {
	return m.findMany(ctx, bson.M{"active": true})
}

// ListActiveUpdatedBefore возвращает активных агентов, устаревших раньше cutoff.
func (m *MongoAgentRepo) ListActiveUpdatedBefore(ctx context.Context, cutoff time.Time) ([]*entity.Agent, error) {
	return m.findMany(ctx, bson.M{"active": true, "updated_at": bson.M{"$lt": cutoff}})
}

// Delete удаляет запись агента.
func (m *MongoAgentRepo) Delete(ctx context.Context, id string) error {
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return apperr.Wrap(apperr.KindInfrastructure, err, "ошибка удаления агента %s", id)
	}
	if res.DeletedCount == 0 {
		return apperr.New(apperr.KindNotFound, "агент %s не найден", id)
	}
	return nil
}

// Close закрывает соединение с MongoDB.
func (m *MongoAgentRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoAgentRepo) findOne(ctx context.Context, filter bson.M, ref string) (*entity.Agent, error) {
	var doc mongoAgent
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, apperr.New(apperr.KindNotFound, "агент %s не найден", ref)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка загрузки агента %s", ref)
	}
	return fromMongoAgent(&doc), nil
}

func (m *MongoAgentRepo) findMany(ctx context.Context, filter bson.M) ([]*entity.Agent, error) {
	cursor, err := m.collection.Find(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка выборки агентов")
	}
	defer cursor.Close(ctx)

	result := make([]*entity.Agent, 0)
	for cursor.Next(ctx) {
		var doc mongoAgent
		if err := cursor.Decode(&doc); err != nil {
			return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка чтения документа агента")
		}
		result = append(result, fromMongoAgent(&doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindInfrastructure, err, "ошибка обхода выборки агентов")
	}
	return result, nil
}

func toMongoAgent(a *entity.Agent) *mongoAgent {
	return &mongoAgent{
		ID:   a.ID,
		Name: a.Name,
		X:    a.Position.X, Y: a.Position.Y, Z: a.Position.Z,
		VX: a.Velocity.X, VY: a.Velocity.Y, VZ: a.Velocity.Z,
		Yaw: a.Orientation.Yaw, Pitch: a.Orientation.Pitch, Roll: a.Orientation.Roll,
		Animation: string(a.Animation),
		Active:    a.Active,
		UpdatedAt: a.UpdatedAt,
	}
}

func fromMongoAgent(doc *mongoAgent) *entity.Agent {
	return &entity.Agent{
		ID:          doc.ID,
		Name:        doc.Name,
		Position:    vec.Vec3{X: doc.X, Y: doc.Y, Z: doc.Z},
		Velocity:    vec.Vec3{X: doc.VX, Y: doc.VY, Z: doc.VZ},
		Orientation: entity.Orientation{Yaw: doc.Yaw, Pitch: doc.Pitch, Roll: doc.Roll},
		Animation:   entity.Animation(doc.Animation),
		Active:      doc.Active,
		UpdatedAt:   doc.UpdatedAt,
	}
}
