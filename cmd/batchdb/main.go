// Copyright 2023 The batchdb Authors
// This file is part of the batchdb library.
//
// The batchdb library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The batchdb library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the batchdb library. If not, see <http://www.gnu.org/licenses/>.

// batchdb is a small maintenance CLI over a store: put, get, delete and
// list entries of one prefix-scoped map.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/miazn/batchdb/config"
	"github.com/miazn/batchdb/emitter"
	"github.com/miazn/batchdb/store"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration `FILE`",
	}
	dbFlag = &cli.StringFlag{
		Name:  "db",
		Usage: "leveldb `DIR` (overrides the config file)",
	}
	memoryFlag = &cli.BoolFlag{
		Name:  "memory",
		Usage: "use an ephemeral in-memory store",
	}
	mirrorFlag = &cli.BoolFlag{
		Name:  "mirror",
		Usage: "mirror committed mutations to the configured Kafka brokers",
	}
	netFlag = &cli.UintFlag{
		Name:  "net",
		Usage: "network id of the map",
		Value: 0,
	}
	mapFlag = &cli.UintFlag{
		Name:  "map",
		Usage: "map id of the map",
		Value: 0,
	}
)

func main() {
	app := &cli.App{
		Name:  "batchdb",
		Usage: "inspect and mutate a batchdb store",
		Flags: []cli.Flag{configFlag, dbFlag, memoryFlag, mirrorFlag, netFlag, mapFlag},
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "insert a key-value pair atomically",
				ArgsUsage: "<key> <value>",
				Action:    putAction,
			},
			{
				Name:      "get",
				Usage:     "read the confirmed value of a key",
				ArgsUsage: "<key>",
				Action:    getAction,
			},
			{
				Name:      "del",
				Usage:     "remove a key atomically",
				ArgsUsage: "<key>",
				Action:    delAction,
			},
			{
				Name:   "list",
				Usage:  "list all confirmed entries of the map",
				Action: listAction,
			},
			{
				Name:   "compact",
				Usage:  "compact the underlying engine",
				Action: compactAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("Command failed")
	}
}

type env struct {
	store *store.Store
	m     *store.DataMap[string, string]
	em    *emitter.Emitter
	kafka *emitter.KafkaProducer
}

func (e *env) close() {
	if e.em != nil {
		if err := e.em.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close emitter")
		}
	}
	if e.kafka != nil {
		if err := e.kafka.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close producer")
		}
	}
	if err := e.store.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close store")
	}
}

func openEnv(ctx *cli.Context) (*env, error) {
	cfg := config.Default()
	if path := ctx.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dir := ctx.String(dbFlag.Name); dir != "" {
		cfg.DBPath = dir
	}

	var opts []store.Option
	e := new(env)
	if ctx.Bool(mirrorFlag.Name) {
		producer, err := emitter.NewKafkaProducer(cfg.Brokers)
		if err != nil {
			return nil, err
		}
		e.kafka = producer
		e.em = emitter.New(producer,
			emitter.WithDrainInterval(cfg.Drain()),
			emitter.WithMaxQueueSize(cfg.MaxQueueSize))
		opts = append(opts, store.WithEmitter(e.em), store.WithTopic(cfg.Topic))
	}

	if ctx.Bool(memoryFlag.Name) {
		e.store = store.NewMemory(opts...)
	} else {
		s, err := store.Open(cfg.DBPath, opts...)
		if err != nil {
			return nil, err
		}
		e.store = s
	}
	e.m = store.OpenMap[string, string](e.store,
		uint16(ctx.Uint(netFlag.Name)), uint16(ctx.Uint(mapFlag.Name)),
		store.StringCodec{}, store.StringCodec{})
	return e, nil
}

func putAction(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return errors.New("put requires <key> <value>")
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	return store.AtomicBatchScope(e.m, func() error {
		return e.m.Insert(ctx.Args().Get(0), ctx.Args().Get(1))
	})
}

func getAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("get requires <key>")
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	value, ok, err := e.m.GetConfirmed(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("key %q not found", ctx.Args().Get(0))
	}
	fmt.Println(value)
	return nil
}

func delAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("del requires <key>")
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	return store.AtomicBatchScope(e.m, func() error {
		return e.m.Remove(ctx.Args().Get(0))
	})
}

func listAction(ctx *cli.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	it := e.m.IterConfirmed()
	defer it.Release()
	for it.Next() {
		fmt.Printf("%s\t%s\n", it.Key(), it.Value())
	}
	return it.Error()
}

func compactAction(ctx *cli.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	return e.store.Database().Compact(nil, nil)
}
