package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Router struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     primitive.ObjectID `bson:"userId" json:"userId"`
	Name       string             `bson:"name" json:"name"`
	Provider   RouterProvider     `bson:"provider" json:"provider"`
	Connection RouterConnection   `bson:"connection" json:"connection"`
	Status     string             `bson:"status" json:"status"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// RouterConnection is the stored management endpoint of a router.
// APIPassword is encrypted at rest.
type RouterConnection struct {
	IPAddress   string `bson:"ipAddress" json:"ipAddress"`
	Port        int    `bson:"port" json:"port"`
	APIUser     string `bson:"apiUser" json:"apiUser"`
	APIPassword string `bson:"apiPassword" json:"-"`
	UseTLS      bool   `bson:"useTls" json:"useTls"`
	Site        string `bson:"site,omitempty" json:"site,omitempty"`
}

type RouterProvider string

const (
	ProviderMikroTik RouterProvider = "mikrotik"
	ProviderUniFi    RouterProvider = "unifi"
)
