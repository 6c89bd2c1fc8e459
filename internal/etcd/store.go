package etcd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const defaultDialTimeout = 5 * time.Second

// Store implements store.KV and store.Notifier on top of etcd.
type Store struct {
	etcd    *clientv3.Client
	session *concurrency.Session
}

func NewStore(ctx context.Context, endpoints []string, dialTimeout time.Duration) (*Store, error) {
	if dialTimeout == 0 {
		dialTimeout = defaultDialTimeout
	}
	clnt, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Context:     ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &Store{etcd: clnt}, nil
}

func (s *Store) Close() error {
	if s.session != nil {
		err := s.session.Close()
		if err != nil {
			log.Error().Err(err).Msg("failed to destroy session")
		}
	}
	err := s.etcd.Close()
	if err != nil {
		log.Error().Err(err).Msg("failed to close etcd client")
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := s.etcd.KV.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if len(resp.Kvs) < 1 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (s *Store) Put(ctx context.Context, key, value string) error {
	_, err := s.etcd.KV.Put(ctx, key, value)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.etcd.KV.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := s.etcd.KV.Delete(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	return nil
}

func (s *Store) FindByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := s.etcd.KV.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to get prefix %s: %w", prefix, err)
	}
	result := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[string(kv.Key)] = string(kv.Value)
	}
	return result, nil
}
