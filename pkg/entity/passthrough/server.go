package passthrough

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/jabolina/go-entity/pkg/entity/types"
)

// Service implements the behavior of an entity class.
type Service interface {
	Invoke(invocation *Invocation) ([]byte, error)
}

// ServiceFunc adapts a function into a Service.
type ServiceFunc func(invocation *Invocation) ([]byte, error)

func (f ServiceFunc) Invoke(invocation *Invocation) ([]byte, error) {
	return f(invocation)
}

// Invocation is a single action executed by a Service.
type Invocation struct {
	Entity        types.EntityID
	Client        types.ClientID
	Configuration []byte
	Payload       []byte

	id   types.TransactionID
	conn *Connection
}

// Stream sends a partial result to the client monitor of the
// invocation, before the final value.
func (i *Invocation) Stream(data []byte) {
	i.conn.handler.HandleTransactionMessage(i.id, data)
}

type entity struct {
	version       uint64
	configuration []byte
	fetches       map[types.ClientID]map[types.ClientInstanceID]struct{}
}

func (e *entity) referenced() bool {
	for _, instances := range e.fetches {
		if len(instances) > 0 {
			return true
		}
	}
	return false
}

// Server is an in-process entity server. Clients connect through a
// Connection, which is the channel given to the manager.
type Server struct {
	logger hclog.Logger

	mutex       sync.Mutex
	services    map[string]Service
	entities    map[types.EntityID]*entity
	connections map[types.ClientID]*Connection
	fetchID     uint64
}

func NewServer(logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		logger:      logger.Named("passthrough"),
		services:    make(map[string]Service),
		entities:    make(map[types.EntityID]*entity),
		connections: make(map[types.ClientID]*Connection),
	}
}

// RegisterService installs the service for the class, entities
// of unknown classes cannot be created.
func (s *Server) RegisterService(className string, service Service) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.services[className] = service
}

// NewConnection creates the channel a client uses to reach the
// server, it is bound to the client when started.
func (s *Server) NewConnection() *Connection {
	return newConnection(s)
}

func (s *Server) connected(c *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.connections[c.client] = c
}

// Publish sends the data to every client instance holding the
// entity and returns how many were reached.
func (s *Server) Publish(eid types.EntityID, data []byte) int {
	type target struct {
		conn       *Connection
		descriptor types.EntityDescriptor
	}

	s.mutex.Lock()
	var targets []target
	if e, ok := s.entities[eid]; ok {
		for client, instances := range e.fetches {
			conn := s.connections[client]
			if conn == nil {
				continue
			}
			for instance := range instances {
				targets = append(targets, target{conn, types.NewDescriptor(eid, instance, e.version)})
			}
		}
	}
	s.mutex.Unlock()

	for _, t := range targets {
		t.conn.deliver(t.descriptor, data)
	}
	return len(targets)
}

// Exists returns true if the entity was created and not destroyed.
func (s *Server) Exists(eid types.EntityID) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.entities[eid]
	return ok
}

// Shutdown closes every connection, the clients shut down.
func (s *Server) Shutdown() {
	s.mutex.Lock()
	connections := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		connections = append(connections, c)
	}
	s.mutex.Unlock()

	for _, c := range connections {
		c.shutdown()
	}
}

func (s *Server) disconnected(c *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.connections[c.client] == c {
		delete(s.connections, c.client)
	}
	for _, e := range s.entities {
		delete(e.fetches, c.client)
	}
}

// Restores the fetches of a reconnecting client.
func (s *Server) reattach(client types.ClientID, references []types.ReconnectReference) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, reference := range references {
		e, ok := s.entities[reference.Entity]
		if !ok {
			s.logger.Warn("reconnect reference to missing entity", "entity", reference.Entity)
			continue
		}
		e.fetch(client, reference.Instance)
	}
}

// Forgets every entity fetched by the client, as a server that
// lost the client session.
func (s *Server) forget(client types.ClientID) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, e := range s.entities {
		delete(e.fetches, client)
	}
}

func (e *entity) fetch(client types.ClientID, instance types.ClientInstanceID) {
	instances, ok := e.fetches[client]
	if !ok {
		instances = make(map[types.ClientInstanceID]struct{})
		e.fetches[client] = instances
	}
	instances[instance] = struct{}{}
}

// Applies the message and returns the result value.
func (s *Server) apply(conn *Connection, message *types.Message) ([]byte, error) {
	eid := message.Descriptor.Entity
	if message.Type == types.InvokeAction {
		return s.invoke(conn, message)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, exists := s.entities[eid]

	switch message.Type {
	case types.CreateEntity:
		if exists {
			return nil, types.NewAlreadyExists(eid)
		}
		if _, ok := s.services[eid.ClassName]; !ok {
			return nil, types.NewEntityException(types.NotProvided, eid.ClassName, eid.EntityName, "no service for class")
		}
		s.entities[eid] = &entity{
			version:       message.Descriptor.Version,
			configuration: message.Payload,
			fetches:       make(map[types.ClientID]map[types.ClientInstanceID]struct{}),
		}
		return nil, nil
	case types.DoesExist:
		if !exists {
			return nil, types.NewNotFound(eid)
		}
		return nil, nil
	}

	if !exists {
		return nil, types.NewNotFound(eid)
	}

	switch message.Type {
	case types.DestroyEntity:
		if e.referenced() {
			return nil, types.NewEntityException(types.Referenced, eid.ClassName, eid.EntityName, "entity still fetched")
		}
		delete(s.entities, eid)
		return nil, nil
	case types.ReconfigureEntity:
		e.configuration = message.Payload
		return e.configuration, nil
	case types.FetchEntity:
		if e.version != message.Descriptor.Version {
			return nil, types.NewVersionMismatch(eid, e.version, message.Descriptor.Version)
		}
		e.fetch(message.Source, message.Descriptor.Instance)
		s.fetchID++
		reply := make([]byte, 8, 8+len(e.configuration))
		binary.BigEndian.PutUint64(reply, s.fetchID)
		return append(reply, e.configuration...), nil
	case types.ReleaseEntity:
		if instances, ok := e.fetches[message.Source]; ok {
			delete(instances, message.Descriptor.Instance)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected message type %s", message.Type)
	}
}

func (s *Server) invoke(conn *Connection, message *types.Message) ([]byte, error) {
	eid := message.Descriptor.Entity
	s.mutex.Lock()
	e, exists := s.entities[eid]
	service := s.services[eid.ClassName]
	var configuration []byte
	if exists {
		configuration = e.configuration
	}
	s.mutex.Unlock()

	if !exists {
		return nil, types.NewNotFound(eid)
	}

	value, err := service.Invoke(&Invocation{
		Entity:        eid,
		Client:        message.Source,
		Configuration: configuration,
		Payload:       message.Payload,
		id:            message.TransactionID,
		conn:          conn,
	})
	if err != nil {
		var exception *types.EntityException
		if errors.As(err, &exception) {
			return nil, exception
		}
		return nil, types.NewEntityException(types.User, eid.ClassName, eid.EntityName, err.Error())
	}

	// Invocations always produce a value.
	if value == nil {
		value = []byte{}
	}
	return value, nil
}
