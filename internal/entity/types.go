package entity

import (
	"time"

	"github.com/annel0/reef-world/internal/apperr"
	"github.com/annel0/reef-world/internal/vec"
)

// Animation представляет тег анимации агента.
// Набор тегов фиксирован; неизвестные теги отклоняются при валидации,
// а не подменяются дефолтом.
type Animation string

const (
	AnimIdle  Animation = "idle"
	AnimSwim  Animation = "swim"
	AnimDart  Animation = "dart"
	AnimFloat Animation = "float"
	AnimSpin  Animation = "spin"
	AnimWave  Animation = "wave"
	AnimDance Animation = "dance"
	AnimRest  Animation = "rest"
)

var validAnimations = map[Animation]struct{}{
	AnimIdle: {}, AnimSwim: {}, AnimDart: {}, AnimFloat: {},
	AnimSpin: {}, AnimWave: {}, AnimDance: {}, AnimRest: {},
}

// ParseAnimation валидирует тег анимации.
// Пустая строка трактуется как idle (агент прислал позицию без анимации).
func ParseAnimation(tag string) (Animation, error) {
	if tag == "" {
		return AnimIdle, nil
	}
	a := Animation(tag)
	if _, ok := validAnimations[a]; !ok {
		return "", apperr.New(apperr.KindValidation, "неизвестный тег анимации: %q", tag)
	}
	return a, nil
}

// StructureType представляет тип построенной структуры
type StructureType string

const (
	StructPlatform  StructureType = "platform"
	StructWall      StructureType = "wall"
	StructPillar    StructureType = "pillar"
	StructArch      StructureType = "arch"
	StructSculpture StructureType = "sculpture"
	StructShelter   StructureType = "shelter"
)

var validStructureTypes = map[StructureType]struct{}{
	StructPlatform: {}, StructWall: {}, StructPillar: {},
	StructArch: {}, StructSculpture: {}, StructShelter: {},
}

// ParseStructureType валидирует тип структуры
func ParseStructureType(tag string) (StructureType, error) {
	t := StructureType(tag)
	if _, ok := validStructureTypes[t]; !ok {
		return "", apperr.New(apperr.KindValidation, "неизвестный тип структуры: %q", tag)
	}
	return t, nil
}

// Material представляет материал структуры
type Material string

const (
	MatCoral   Material = "coral"
	MatShell   Material = "shell"
	MatSand    Material = "sand"
	MatKelp    Material = "kelp"
	MatCrystal Material = "crystal"
	MatStone   Material = "stone"
)

var validMaterials = map[Material]struct{}{
	MatCoral: {}, MatShell: {}, MatSand: {},
	MatKelp: {}, MatCrystal: {}, MatStone: {},
}

// ParseMaterial валидирует материал структуры
func ParseMaterial(tag string) (Material, error) {
	m := Material(tag)
	if _, ok := validMaterials[m]; !ok {
		return "", apperr.New(apperr.KindValidation, "неизвестный материал: %q", tag)
	}
	return m, nil
}

// Orientation представляет ориентацию агента в пространстве
type Orientation struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Agent представляет запись о позиции агента в мире.
// Запись принадлежит durable-хранилищу и зеркалируется в hot cache,
// пока агент активен.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Position    vec.Vec3    `json:"position"`
	Velocity    vec.Vec3    `json:"velocity"`
	Orientation Orientation `json:"orientation"`
	Animation   Animation   `json:"animation"`
	Active      bool        `json:"active"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Size представляет габариты структуры по трем осям
type Size struct {
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
	Height float64 `json:"height"`
}

// Structure представляет построенную агентом структуру.
// Владелец может быть удален — тогда OwnerID пустой, а структура остается.
type Structure struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id,omitempty"`
	Name        string        `json:"name"`
	Type        StructureType `json:"type"`
	Material    Material      `json:"material"`
	Position    vec.Vec3      `json:"position"`
	Size        Size          `json:"size"`
	ExternalRef string        `json:"external_ref,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// StructurePatch описывает изменяемые поля структуры.
// nil-поле означает "не менять".
type StructurePatch struct {
	Name     *string        `json:"name,omitempty"`
	Type     *StructureType `json:"type,omitempty"`
	Material *Material      `json:"material,omitempty"`
	Position *vec.Vec3      `json:"position,omitempty"`
	Size     *Size          `json:"size,omitempty"`
}

// FollowRelation представляет эфемерную связь "follower следует за target".
// Живет только в hot cache с фиксированным TTL, durable не сохраняется.
type FollowRelation struct {
	FollowerID string    `json:"follower_id"`
	TargetID   string    `json:"target_id"`
	Distance   float64   `json:"distance"`
	CreatedAt  time.Time `json:"created_at"`
}
